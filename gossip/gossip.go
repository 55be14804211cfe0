// Package gossip moves blocks between peers. Every message is a copy
// scheduled on the simulation clock after the modelled edge delay, and may be
// dropped. Blocks whose parent is unknown trigger a bounded, loop-free search
// for the missing ancestor.
package gossip

import (
	"math/rand"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"blocksim/clock"
	"blocksim/ledger"
	"blocksim/logger"
	"blocksim/metrics"
	"blocksim/models"
	"blocksim/network"
)

const (
	// DefaultRequestTTL bounds how many hops a missing-block request travels.
	DefaultRequestTTL = 3
	// DefaultCacheSize sizes the invalid-block and recent-sender caches.
	DefaultCacheSize = 1024

	// NoSender marks a block that did not arrive from a peer.
	NoSender = -1
)

// Peer is what the protocol sees of another node.
type Peer interface {
	ID() int
	// CopyBlock returns a copy of an attached block, if the peer has it.
	CopyBlock(id models.BlockID) (*models.Block, bool)
	// Deliver hands a block that arrived from another node to the peer.
	Deliver(b *models.Block, from int)
	// HandleRequest asks the peer to search for a block on behalf of origin.
	HandleRequest(id models.BlockID, origin, ttl int)
}

// Directory resolves node ids to peers.
type Directory interface {
	Peer(id int) (Peer, bool)
}

type Config struct {
	// RequestTTL is used as given; zero disables the ancestor search.
	RequestTTL int
	// DropRate is the probability, in [0, 1], that any single message is lost.
	DropRate  float64
	CacheSize int
}

// DefaultConfig returns a lossless configuration with the default request TTL.
func DefaultConfig() Config {
	return Config{RequestTTL: DefaultRequestTTL, CacheSize: DefaultCacheSize}
}

// Hooks connect the protocol to the node that owns it.
type Hooks struct {
	// Active reports whether the node currently takes part in gossip.
	Active func() bool
	// Accepted is called after blocks were attached to the ledger.
	Accepted func(res ledger.Result)
}

type requestKey struct {
	origin int
	block  models.BlockID
}

// Protocol is the gossip state of one node. It is driven by the scheduler
// goroutine only.
type Protocol struct {
	self   int
	cfg    Config
	ledger *ledger.Ledger
	sched  *clock.Scheduler
	net    network.Model
	dir    Directory
	rng    *rand.Rand
	sink   metrics.Sink
	hooks  Hooks

	seen    map[requestKey]struct{}
	invalid *lru.Cache[models.BlockID, struct{}]
	senders *lru.Cache[models.BlockID, []int]
}

// New creates the protocol for node self. rng drives drop decisions and must
// not be shared with other nodes if runs are to be reproducible.
func New(self int, cfg Config, l *ledger.Ledger, sched *clock.Scheduler, net network.Model, dir Directory, rng *rand.Rand, sink metrics.Sink, hooks Hooks) *Protocol {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if sink == nil {
		sink = metrics.Discard{}
	}
	if hooks.Active == nil {
		hooks.Active = func() bool { return true }
	}
	if hooks.Accepted == nil {
		hooks.Accepted = func(ledger.Result) {}
	}
	p := &Protocol{
		self:   self,
		cfg:    cfg,
		ledger: l,
		sched:  sched,
		net:    net,
		dir:    dir,
		rng:    rng,
		sink:   sink,
		hooks:  hooks,
	}
	p.Reset()
	return p
}

// Reset forgets every request seen and every cached block verdict, as a
// node restart does. The ledger is untouched.
func (p *Protocol) Reset() {
	p.seen = make(map[requestKey]struct{})
	// only fails for a non-positive size
	p.invalid, _ = lru.New[models.BlockID, struct{}](p.cfg.CacheSize)
	p.senders, _ = lru.New[models.BlockID, []int](p.cfg.CacheSize)
}

// SeenRequest reports whether the (origin, id) request was already handled.
func (p *Protocol) SeenRequest(origin int, id models.BlockID) bool {
	_, ok := p.seen[requestKey{origin, id}]
	return ok
}

// SeenRequests returns how many distinct requests were handled.
func (p *Protocol) SeenRequests() int {
	return len(p.seen)
}

// dropped draws the loss decision for one message.
func (p *Protocol) dropped() bool {
	return p.cfg.DropRate > 0 && p.rng.Float64() < p.cfg.DropRate
}

// send schedules fn after delay unless the message is lost.
func (p *Protocol) send(delay float64, fn func()) bool {
	if p.dropped() {
		p.sink.Inc(metrics.DroppedBlocks)
		return false
	}
	p.sched.Schedule(delay, fn)
	return true
}

// Broadcast sends a copy of b to every peer except the given one, and except
// peers b was already heard from.
func (p *Protocol) Broadcast(b *models.Block, except int) {
	if !p.hooks.Active() {
		return
	}
	heard, _ := p.senders.Get(b.ID)
	for _, id := range p.net.Peers(p.self) {
		if id == except || containsInt(heard, id) {
			continue
		}
		peer, ok := p.dir.Peer(id)
		if !ok {
			continue
		}
		p.sink.Inc(metrics.Broadcasts)
		cp := b.Detach()
		from := p.self
		if !p.send(p.net.Delay(p.self, id), func() { peer.Deliver(cp, from) }) {
			logger.Logger.Debug("Block dropped",
				zap.Int("from", p.self), zap.Int("to", id), zap.String("block", b.ID.Short()))
		}
	}
}

// Receive handles a block that arrived from peer from. Known blocks are
// ignored, blocks with an unknown parent are parked and their parent is
// requested, anything else is inserted and forwarded.
func (p *Protocol) Receive(b *models.Block, from int) {
	if !p.hooks.Active() {
		return
	}
	if from != NoSender {
		p.rememberSender(b.ID, from)
	}
	if p.invalid.Contains(b.ID) {
		return
	}
	if p.ledger.Contains(b.ID) || p.ledger.IsPending(b.ID) {
		p.sink.Inc(metrics.Duplicates)
		return
	}

	res, err := p.ledger.Insert(b)
	if err != nil {
		p.sink.Inc(metrics.InvalidBlocks)
		p.invalid.Add(b.ID, struct{}{})
		logger.Logger.Warn("Rejected block",
			zap.Int("node", p.self), zap.Int("from", from),
			zap.String("block", b.ID.Short()), zap.Error(err))
		return
	}

	switch res.Outcome {
	case ledger.Pending:
		logger.Logger.Debug("Parked block with missing parent",
			zap.Int("node", p.self), zap.String("block", b.ID.Short()),
			zap.String("parent", b.ParentID.Short()))
		p.RequestMissing(b.ParentID, p.self, p.cfg.RequestTTL)
	case ledger.Accepted:
		p.hooks.Accepted(res)
		for i, attached := range res.Attached {
			except := NoSender
			if i == 0 {
				except = from
			}
			p.Broadcast(attached, except)
		}
	}
}

// RequestMissing searches the peers of this node for block id on behalf of
// origin. Each (origin, id) pair is handled at most once per node lifetime.
// If a peer holds the block, a copy is sent straight to origin; otherwise the
// request is forwarded to every peer with one hop less. A request that runs
// out of hops is abandoned.
func (p *Protocol) RequestMissing(id models.BlockID, origin, ttl int) {
	key := requestKey{origin, id}
	if _, ok := p.seen[key]; ok {
		return
	}
	p.seen[key] = struct{}{}

	if ttl <= 0 {
		p.sink.Inc(metrics.RequestsExhausted)
		logger.Logger.Warn("Block request exhausted",
			zap.Int("node", p.self), zap.Int("origin", origin), zap.String("block", id.Short()))
		return
	}

	peers := p.net.Peers(p.self)
	for _, pid := range peers {
		peer, ok := p.dir.Peer(pid)
		if !ok {
			continue
		}
		cp, ok := peer.CopyBlock(id)
		if !ok {
			continue
		}
		dest, ok := p.dir.Peer(origin)
		if !ok {
			return
		}
		logger.Logger.Debug("Found requested block",
			zap.Int("holder", pid), zap.Int("origin", origin), zap.String("block", id.Short()))
		sender := pid
		p.send(p.net.Delay(pid, origin), func() { dest.Deliver(cp, sender) })
		return
	}

	for _, pid := range peers {
		peer, ok := p.dir.Peer(pid)
		if !ok {
			continue
		}
		p.sink.Inc(metrics.RequestsSent)
		next := ttl - 1
		p.send(p.net.Delay(p.self, pid), func() { peer.HandleRequest(id, origin, next) })
	}
}

func (p *Protocol) rememberSender(id models.BlockID, from int) {
	heard, _ := p.senders.Get(id)
	if containsInt(heard, from) {
		return
	}
	p.senders.Add(id, append(append([]int(nil), heard...), from))
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
