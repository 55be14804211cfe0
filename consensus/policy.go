// Package consensus turns a ledger's accumulated weight into a canonical head.
// Policies are a closed set of variants behind the Policy interface; each
// carries the sealing scheme its blocks must satisfy.
package consensus

import (
	"fmt"

	"blocksim/ledger"
	"blocksim/models"
)

// Kind names a policy variant.
type Kind string

const (
	KindGhost        Kind = "ghost"
	KindLongestChain Kind = "longest"
	KindProofOfStake Kind = "pos"
	KindDagWeight    Kind = "dag"
)

// Policy is a pure strategy over a ledger.
type Policy interface {
	Kind() Kind
	// WeightOf is the local weight contribution of b.
	WeightOf(b *models.Block) int64
	// SelectHead returns the canonical head. It never fails and always
	// returns a block reachable from genesis.
	SelectHead(l *ledger.Ledger) models.BlockID
	// Verify checks that the parent of b is attached and that b is sealed.
	Verify(b *models.Block, l *ledger.Ledger) error
	VerifySeal(b *models.Block) error
	Sealer() Sealer
}

// Options configures a policy and its sealing scheme.
type Options struct {
	Sealing    Scheme
	Difficulty int
	Stakes     Stakes
	// Authorities and Key are used by the authority scheme only.
	Authorities *AuthoritySet
	Key         *SigningKey
}

var policies = map[Kind]func(Sealer, Options) Policy{
	KindGhost:        func(s Sealer, _ Options) Policy { return &Ghost{base{s}} },
	KindLongestChain: func(s Sealer, _ Options) Policy { return &LongestChain{base{s}} },
	KindProofOfStake: func(s Sealer, o Options) Policy { return &ProofOfStake{base{s}, o.Stakes} },
	KindDagWeight:    func(s Sealer, _ Options) Policy { return &DagWeight{base{s}} },
}

// Kinds lists the registered policy names.
func Kinds() []Kind {
	return []Kind{KindGhost, KindLongestChain, KindProofOfStake, KindDagWeight}
}

// New builds the policy named kind. When opts.Sealing is empty the policy's
// default scheme is used: stake lottery for proof of stake, proof of work
// otherwise.
func New(kind Kind, opts Options) (Policy, error) {
	build, ok := policies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, kind)
	}
	if opts.Sealing == "" {
		opts.Sealing = SchemePoW
		if kind == KindProofOfStake {
			opts.Sealing = SchemeStake
		}
	}
	sealer, err := NewSealer(opts)
	if err != nil {
		return nil, err
	}
	return build(sealer, opts), nil
}

type base struct {
	sealer Sealer
}

func (p base) Sealer() Sealer {
	return p.sealer
}

func (p base) VerifySeal(b *models.Block) error {
	return p.sealer.Verify(b)
}

func (p base) Verify(b *models.Block, l *ledger.Ledger) error {
	if b.ParentID == "" {
		return ledger.ErrNoParent
	}
	if !l.Contains(b.ParentID) {
		return fmt.Errorf("%w: %s", ErrMissingParent, b.ParentID.Short())
	}
	return p.sealer.Verify(b)
}

// descend walks from genesis, at each step moving to the child that compares
// highest under cmp. Equal children are ordered by id, smaller first. The
// walk ends at a leaf, so it terminates after at most the tree depth.
func descend(l *ledger.Ledger, cmp func(a, b *models.Block) int) models.BlockID {
	cur := l.Genesis()
	for len(cur.Children) > 0 {
		var best *models.Block
		for _, id := range cur.Children {
			c, ok := l.Get(id)
			if !ok {
				continue
			}
			if best == nil || better(c, best, cmp) {
				best = c
			}
		}
		if best == nil {
			break
		}
		cur = best
	}
	return cur.ID
}

func better(a, b *models.Block, cmp func(a, b *models.Block) int) bool {
	if c := cmp(a, b); c != 0 {
		return c > 0
	}
	return ledger.Less(a.ID, b.ID)
}

func compareInt(a, b int64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	}
	return 0
}

// Ghost follows the heaviest subtree.
type Ghost struct{ base }

func (*Ghost) Kind() Kind { return KindGhost }

func (*Ghost) WeightOf(*models.Block) int64 { return 1 }

func (*Ghost) SelectHead(l *ledger.Ledger) models.BlockID {
	return descend(l, func(a, b *models.Block) int {
		return compareInt(a.SubtreeWeight, b.SubtreeWeight)
	})
}

// LongestChain follows the child with the most children, preferring the
// deeper subtree when the counts are equal.
type LongestChain struct{ base }

func (*LongestChain) Kind() Kind { return KindLongestChain }

func (*LongestChain) WeightOf(*models.Block) int64 { return 1 }

func (*LongestChain) SelectHead(l *ledger.Ledger) models.BlockID {
	return descend(l, func(a, b *models.Block) int {
		if c := compareInt(int64(len(a.Children)), int64(len(b.Children))); c != 0 {
			return c
		}
		return compareInt(a.Reach, b.Reach)
	})
}

// ProofOfStake weighs every block by its miner's stake and follows the child
// sealed with the largest stake, then the heavier subtree.
type ProofOfStake struct {
	base
	stakes Stakes
}

func (*ProofOfStake) Kind() Kind { return KindProofOfStake }

func (p *ProofOfStake) WeightOf(b *models.Block) int64 {
	return p.stakes.Of(b.MinerID)
}

func (*ProofOfStake) SelectHead(l *ledger.Ledger) models.BlockID {
	return descend(l, func(a, b *models.Block) int {
		if c := compareInt(a.Weight, b.Weight); c != 0 {
			return c
		}
		return compareInt(a.SubtreeWeight, b.SubtreeWeight)
	})
}

// DagWeight scans every attached block and picks the one with the highest
// accumulated path score.
type DagWeight struct{ base }

func (*DagWeight) Kind() Kind { return KindDagWeight }

func (*DagWeight) WeightOf(*models.Block) int64 { return 1 }

func (*DagWeight) SelectHead(l *ledger.Ledger) models.BlockID {
	highest := l.Genesis()
	for _, b := range l.Blocks() {
		if better(b, highest, func(a, b *models.Block) int { return compareInt(a.Score, b.Score) }) {
			highest = b
		}
	}
	return highest.ID
}
