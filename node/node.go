// Package node implements a simulated participant: a ledger, a consensus
// policy, a gossip protocol and a mining loop, all driven by the shared
// simulation clock.
package node

import (
	"fmt"
	"math/rand"

	"go.uber.org/zap"

	"blocksim/clock"
	"blocksim/consensus"
	"blocksim/gossip"
	"blocksim/ledger"
	"blocksim/logger"
	"blocksim/metrics"
	"blocksim/models"
	"blocksim/network"
)

// State is the proposal state of a node's own block.
type State int

const (
	// Idle means no candidate block is being sealed.
	Idle State = iota
	// ProposalPending means a candidate is being sealed.
	ProposalPending
	// Local means the last sealed block was committed locally and broadcast.
	Local
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ProposalPending:
		return "proposal_pending"
	case Local:
		return "local"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Links is the network view a node needs: delays, peers, and the ability to
// change its own edges.
type Links interface {
	network.Model
	AddEdge(a, b int)
	RemoveEdge(a, b int)
}

type Config struct {
	ID int
	// Seed drives this node's random draws.
	Seed int64
	// Tick is the time between two sealing batches.
	Tick float64
	// Batch is the number of sealing attempts per tick.
	Batch int
	// BlockInterval is the pause after a block was mined.
	BlockInterval float64
	// ConsensusInterval is the time between two head selections.
	ConsensusInterval float64
	Gossip            gossip.Config
}

// Node is driven by the scheduler goroutine only and holds no locks.
type Node struct {
	cfg    Config
	policy consensus.Policy
	ledger *ledger.Ledger
	sched  *clock.Scheduler
	links  Links
	sink   metrics.Sink
	gossip *gossip.Protocol

	state     State
	candidate *models.Block

	mining          bool
	mineQueued      bool
	running         bool
	consensusQueued bool
}

// New creates node cfg.ID. The policy becomes the ledger's rules.
func New(cfg Config, policy consensus.Policy, sched *clock.Scheduler, links Links, dir gossip.Directory, sink metrics.Sink) *Node {
	if cfg.Batch <= 0 {
		cfg.Batch = 1
	}
	if sink == nil {
		sink = metrics.Discard{}
	}
	n := &Node{
		cfg:    cfg,
		policy: policy,
		ledger: ledger.New(policy),
		sched:  sched,
		links:  links,
		sink:   sink,
	}
	n.gossip = gossip.New(cfg.ID, cfg.Gossip, n.ledger, sched, links, dir,
		rand.New(rand.NewSource(cfg.Seed)), sink,
		gossip.Hooks{Active: n.Active, Accepted: n.accepted})
	return n
}

func (n *Node) ID() int { return n.cfg.ID }

func (n *Node) Ledger() *ledger.Ledger { return n.ledger }

func (n *Node) Policy() consensus.Policy { return n.policy }

func (n *Node) Gossip() *gossip.Protocol { return n.gossip }

func (n *Node) State() State { return n.state }

func (n *Node) Head() models.BlockID { return n.ledger.Head() }

func (n *Node) ChainLength() int { return n.ledger.ChainLength() }

func (n *Node) Mining() bool { return n.mining }

// Active reports whether the node has at least one peer. An isolated node
// neither mines nor gossips.
func (n *Node) Active() bool {
	return len(n.links.Peers(n.cfg.ID)) > 0
}

// Start begins the periodic consensus step.
func (n *Node) Start() {
	n.running = true
	n.scheduleConsensus(n.cfg.ConsensusInterval)
}

// Stop ends the periodic consensus step after the one already queued.
func (n *Node) Stop() {
	n.running = false
}

// StartMining turns the mining loop on. The first batch runs at the next
// scheduler step.
func (n *Node) StartMining() {
	n.mining = true
	n.scheduleMining(0)
}

// StopMining turns the mining loop off; it is observed at the next tick.
func (n *Node) StopMining() {
	n.mining = false
}

// AddPeer connects this node to peer, reactivating it if it was isolated.
func (n *Node) AddPeer(peer int) {
	if peer == n.cfg.ID {
		return
	}
	n.links.AddEdge(n.cfg.ID, peer)
	n.Wake()
}

// RemovePeer disconnects this node from peer.
func (n *Node) RemovePeer(peer int) {
	n.links.RemoveEdge(n.cfg.ID, peer)
	if !n.Active() {
		logger.Logger.Info("Node isolated", zap.Int("node", n.cfg.ID), zap.Float64("time", n.sched.Now()))
	}
}

// Wake restarts loops that stopped while the node was isolated.
func (n *Node) Wake() {
	if n.mining {
		n.scheduleMining(0)
	}
	if n.running {
		n.scheduleConsensus(0)
	}
}

// Restart drops the gossip state and the current candidate. The ledger is
// kept.
func (n *Node) Restart() {
	n.gossip.Reset()
	n.candidate = nil
	n.state = Idle
	n.Wake()
}

// CopyBlock returns a copy of an attached block.
func (n *Node) CopyBlock(id models.BlockID) (*models.Block, bool) {
	return n.ledger.Copy(id)
}

// Deliver hands a block received from another node to gossip.
func (n *Node) Deliver(b *models.Block, from int) {
	n.gossip.Receive(b, from)
}

// HandleRequest serves a missing-block request on behalf of origin.
func (n *Node) HandleRequest(id models.BlockID, origin, ttl int) {
	if !n.Active() {
		return
	}
	n.gossip.RequestMissing(id, origin, ttl)
}

// Summary reports the node's current view.
func (n *Node) Summary() models.NodeSummary {
	return models.NodeSummary{
		NodeID:      n.cfg.ID,
		HeadID:      n.ledger.Head(),
		ChainLength: n.ledger.ChainLength(),
		Blocks:      n.ledger.Len(),
		Pending:     n.ledger.PendingCount(),
		Mining:      n.mining,
		Active:      n.Active(),
	}
}

func (n *Node) scheduleMining(delay float64) {
	if n.mineQueued {
		return
	}
	n.mineQueued = true
	n.sched.Schedule(delay, n.mineStep)
}

func (n *Node) scheduleConsensus(delay float64) {
	if n.consensusQueued || n.cfg.ConsensusInterval <= 0 {
		return
	}
	n.consensusQueued = true
	n.sched.Schedule(delay, n.consensusStep)
}

func (n *Node) mineStep() {
	n.mineQueued = false
	if !n.mining || !n.Active() {
		return
	}

	if n.candidate == nil || n.candidate.ParentID != n.ledger.Head() {
		if n.candidate == nil {
			n.updateHead()
		}
		n.candidate = n.ledger.CreateBlock(n.ledger.Head(), n.cfg.ID, n.sched.Now())
		n.state = ProposalPending
	}

	if !n.policy.Sealer().Seal(n.candidate, n.cfg.Batch) {
		n.scheduleMining(n.cfg.Tick)
		return
	}

	b := n.candidate
	n.candidate = nil
	if err := n.commit(b); err != nil {
		logger.Logger.Error("Failed to commit mined block",
			zap.Int("node", n.cfg.ID), zap.String("block", b.ID.Short()), zap.Error(err))
		n.state = Idle
		n.scheduleMining(n.cfg.Tick)
		return
	}
	n.scheduleMining(n.cfg.BlockInterval)
}

// commit inserts a sealed block of our own and announces it.
func (n *Node) commit(b *models.Block) error {
	if err := n.policy.Verify(b, n.ledger); err != nil {
		return err
	}
	res, err := n.ledger.Insert(b)
	if err != nil {
		return err
	}
	if res.Outcome != ledger.Accepted {
		return fmt.Errorf("mined block %s not attached: %s", b.ID.Short(), res.Outcome)
	}
	n.sink.Inc(metrics.BlocksMined)
	n.state = Local
	logger.Logger.Debug("Mined block",
		zap.Int("node", n.cfg.ID), zap.String("block", b.ID.Short()),
		zap.String("parent", b.ParentID.Short()), zap.Float64("time", n.sched.Now()))

	n.accepted(res)
	n.gossip.Broadcast(b, gossip.NoSender)
	n.updateHead()
	return nil
}

func (n *Node) consensusStep() {
	n.consensusQueued = false
	if !n.running || !n.Active() {
		return
	}
	n.sink.Inc(metrics.ConsensusExecutions)
	n.updateHead()
	n.scheduleConsensus(n.cfg.ConsensusInterval)
}

// updateHead runs head selection and records reorganisations.
func (n *Node) updateHead() {
	old := n.ledger.Head()
	head := n.policy.SelectHead(n.ledger)
	if head == old {
		return
	}
	if !n.ledger.IsAncestor(old, head) {
		n.sink.Inc(metrics.ForkResolutions)
		logger.Logger.Debug("Switched fork",
			zap.Int("node", n.cfg.ID), zap.String("from", old.Short()), zap.String("to", head.Short()))
	}
	if err := n.ledger.SetHead(head); err != nil {
		logger.Logger.Error("Head selection returned unusable block",
			zap.Int("node", n.cfg.ID), zap.String("head", head.Short()), zap.Error(err))
	}
}

func (n *Node) accepted(res ledger.Result) {
	for i := 0; i < res.Forks; i++ {
		n.sink.Inc(metrics.Forks)
	}
}
