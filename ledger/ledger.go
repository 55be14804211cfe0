// Package ledger holds one peer's view of the block tree. Blocks live in an
// arena keyed by id; parent and child links are ids, never pointers shared
// across ledgers.
package ledger

import (
	"fmt"
	"sort"
	"strings"

	"blocksim/models"
)

// Rules is the part of a consensus policy the ledger needs on insertion.
type Rules interface {
	WeightOf(b *models.Block) int64
	VerifySeal(b *models.Block) error
}

// Outcome classifies an insertion.
type Outcome int

const (
	Accepted Outcome = iota
	Pending
	Duplicate
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Pending:
		return "pending"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result reports what an insertion did to the ledger.
type Result struct {
	Outcome Outcome
	// Attached lists the inserted block followed by every pending block the
	// insertion flushed, in attach order.
	Attached []*models.Block
	// Forks counts attachments onto a parent that already had a child.
	Forks int
}

type Ledger struct {
	rules     Rules
	blocks    map[models.BlockID]*models.Block
	genesisID models.BlockID
	headID    models.BlockID

	// pending maps a missing parent id to the blocks waiting on it, in
	// arrival order. waiting indexes the same blocks by their own id.
	pending map[models.BlockID][]*models.Block
	waiting map[models.BlockID]models.BlockID
}

// New creates a ledger holding only the genesis block.
func New(rules Rules) *Ledger {
	genesis := models.NewGenesis()
	return &Ledger{
		rules:     rules,
		blocks:    map[models.BlockID]*models.Block{genesis.ID: genesis},
		genesisID: genesis.ID,
		headID:    genesis.ID,
		pending:   make(map[models.BlockID][]*models.Block),
		waiting:   make(map[models.BlockID]models.BlockID),
	}
}

// CreateBlock builds an unsealed block on top of parent. It is not inserted.
func (l *Ledger) CreateBlock(parent models.BlockID, miner int, timestamp float64) *models.Block {
	return &models.Block{
		ID:        models.DeriveID(parent, miner, timestamp),
		ParentID:  parent,
		MinerID:   miner,
		Timestamp: timestamp,
		Weight:    1,
	}
}

// Insert adds b to the ledger. The ledger takes ownership of b; callers
// holding a block that belongs to another ledger must pass a copy.
//
// A block whose parent is unknown is parked and reported as Pending. A block
// whose parent is known is attached, weights are propagated to genesis, and
// every block parked on it is flushed before Insert returns.
func (l *Ledger) Insert(b *models.Block) (Result, error) {
	if b == nil {
		return Result{Outcome: Rejected}, ErrInvalidBlock
	}
	if l.Contains(b.ID) || l.IsPending(b.ID) {
		return Result{Outcome: Duplicate}, nil
	}
	if b.ParentID == "" {
		return Result{Outcome: Rejected}, ErrNoParent
	}
	if l.rules != nil {
		if err := l.rules.VerifySeal(b); err != nil {
			return Result{Outcome: Rejected}, fmt.Errorf("%w: %v", ErrInvalidBlock, err)
		}
	}

	if !l.Contains(b.ParentID) {
		l.pending[b.ParentID] = append(l.pending[b.ParentID], b)
		l.waiting[b.ID] = b.ParentID
		return Result{Outcome: Pending}, nil
	}

	res := Result{Outcome: Accepted}
	l.attachAndFlush(b, &res)
	return res, nil
}

func (l *Ledger) attachAndFlush(b *models.Block, res *Result) {
	if l.attach(b) {
		res.Forks++
	}
	res.Attached = append(res.Attached, b)

	waiting, ok := l.pending[b.ID]
	if !ok {
		return
	}
	delete(l.pending, b.ID)
	for _, child := range waiting {
		delete(l.waiting, child.ID)
		if l.Contains(child.ID) {
			continue
		}
		l.attachAndFlush(child, res)
	}
}

// attach links b under its parent and propagates weight, reach and score up
// to genesis. It reports whether the parent already had children.
func (l *Ledger) attach(b *models.Block) bool {
	parent := l.blocks[b.ParentID]
	forked := len(parent.Children) > 0

	b.Weight = 1
	if l.rules != nil {
		b.Weight = l.rules.WeightOf(b)
	}
	b.SubtreeWeight = b.Weight
	b.Children = nil
	b.Height = parent.Height + 1
	b.Reach = b.Height
	b.Score = parent.Score + b.Weight

	l.blocks[b.ID] = b
	parent.Children = append(parent.Children, b.ID)

	for a := parent; a != nil; a = l.blocks[a.ParentID] {
		a.SubtreeWeight += b.Weight
		if b.Height > a.Reach {
			a.Reach = b.Height
		}
		if a.IsGenesis() {
			break
		}
	}
	return forked
}

// Contains reports whether id is attached to the tree.
func (l *Ledger) Contains(id models.BlockID) bool {
	_, ok := l.blocks[id]
	return ok
}

// IsPending reports whether id is parked waiting for its parent.
func (l *Ledger) IsPending(id models.BlockID) bool {
	_, ok := l.waiting[id]
	return ok
}

// Get returns the attached block with the given id. The returned block is
// owned by the ledger and must not be modified or handed to another peer.
func (l *Ledger) Get(id models.BlockID) (*models.Block, bool) {
	b, ok := l.blocks[id]
	return b, ok
}

// Copy returns a detached copy of an attached block, suitable for sending.
func (l *Ledger) Copy(id models.BlockID) (*models.Block, bool) {
	b, ok := l.blocks[id]
	if !ok {
		return nil, false
	}
	return b.Detach(), true
}

func (l *Ledger) Genesis() *models.Block {
	return l.blocks[l.genesisID]
}

func (l *Ledger) GenesisID() models.BlockID {
	return l.genesisID
}

// Len returns the number of attached blocks, genesis included.
func (l *Ledger) Len() int {
	return len(l.blocks)
}

// PendingCount returns the number of parked blocks.
func (l *Ledger) PendingCount() int {
	return len(l.waiting)
}

// PendingFor returns the blocks waiting on parent, in arrival order.
func (l *Ledger) PendingFor(parent models.BlockID) []*models.Block {
	return append([]*models.Block(nil), l.pending[parent]...)
}

// MissingParents returns the ids the ledger is waiting on, sorted.
func (l *Ledger) MissingParents() []models.BlockID {
	ids := make([]models.BlockID, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return Less(ids[i], ids[j]) })
	return ids
}

// Children returns the child ids of id in attach order.
func (l *Ledger) Children(id models.BlockID) []models.BlockID {
	b, ok := l.blocks[id]
	if !ok {
		return nil
	}
	return append([]models.BlockID(nil), b.Children...)
}

// Blocks returns every attached block ordered by id.
func (l *Ledger) Blocks() []*models.Block {
	out := make([]*models.Block, 0, len(l.blocks))
	for _, b := range l.blocks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i].ID, out[j].ID) })
	return out
}

// Tips returns the blocks without children, highest path weight first.
func (l *Ledger) Tips() []*models.Block {
	var out []*models.Block
	for _, b := range l.blocks {
		if len(b.Children) == 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return Less(out[i].ID, out[j].ID)
	})
	return out
}

// CompareIDs orders block ids. Consensus comparators fall back to it, the
// smaller id winning, so head selection is a total order.
func CompareIDs(a, b models.BlockID) int {
	return strings.Compare(string(a), string(b))
}

// Less reports whether a sorts before b.
func Less(a, b models.BlockID) bool {
	return CompareIDs(a, b) < 0
}

// Head returns the current head id.
func (l *Ledger) Head() models.BlockID {
	return l.headID
}

// SetHead moves the head. The id must be attached and reachable from genesis.
func (l *Ledger) SetHead(id models.BlockID) error {
	if !l.Contains(id) {
		return fmt.Errorf("%w: %s", ErrUnknownBlock, id.Short())
	}
	if !l.IsAncestor(l.genesisID, id) {
		return fmt.Errorf("%w: %s", ErrUnreachable, id.Short())
	}
	l.headID = id
	return nil
}

// IsAncestor reports whether a lies on the parent path from b to genesis. A
// block is its own ancestor.
func (l *Ledger) IsAncestor(a, b models.BlockID) bool {
	cur, ok := l.blocks[b]
	for ok {
		if cur.ID == a {
			return true
		}
		if cur.IsGenesis() {
			return false
		}
		cur, ok = l.blocks[cur.ParentID]
	}
	return false
}

// PathToHead returns the ids from genesis to the head, inclusive.
func (l *Ledger) PathToHead() []models.BlockID {
	var path []models.BlockID
	cur, ok := l.blocks[l.headID]
	for ok {
		path = append(path, cur.ID)
		if cur.IsGenesis() {
			break
		}
		cur, ok = l.blocks[cur.ParentID]
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// ChainLength returns the number of blocks from genesis to the head, inclusive.
func (l *Ledger) ChainLength() int {
	return int(l.blocks[l.headID].Height) + 1
}
