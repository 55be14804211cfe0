// Package sim assembles nodes, topology, clock and metrics from a
// configuration and runs them.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blocksim/clock"
	"blocksim/config"
	"blocksim/consensus"
	"blocksim/gossip"
	"blocksim/logger"
	"blocksim/metrics"
	"blocksim/models"
	"blocksim/network"
	"blocksim/node"
)

// nodeSeedStride spreads per-node seeds derived from the run seed.
const nodeSeedStride = 1000003

// Simulator owns one simulated network. It is not safe for concurrent use;
// independent simulators may run in parallel.
type Simulator struct {
	id      string
	cfg     config.Config
	sched   *clock.Scheduler
	topo    *network.Topology
	metrics *metrics.Counters
	rng     *rand.Rand
	nodes   []*node.Node
}

// New builds the network described by cfg. No loop is started.
func New(cfg config.Config) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	topo, err := network.Build(network.Layout(cfg.Network.Topology), cfg.Simulation.Nodes,
		cfg.Network.ExpectedPeers, cfg.Simulation.Seed, cfg.Network.MinDelay, cfg.Network.MaxDelay)
	if err != nil {
		return nil, err
	}

	s := &Simulator{
		id:      newRunID(cfg),
		cfg:     cfg,
		sched:   clock.NewScheduler(),
		topo:    topo,
		metrics: metrics.NewCounters(),
		rng:     rand.New(rand.NewSource(cfg.Simulation.Seed)),
	}

	keys, authorities := s.authorities()
	for id := 0; id < cfg.Simulation.Nodes; id++ {
		policy, err := consensus.New(consensus.Kind(cfg.Consensus.Policy), consensus.Options{
			Sealing:     consensus.Scheme(cfg.Consensus.Sealing),
			Difficulty:  cfg.Consensus.Difficulty,
			Stakes:      cfg.StakeTable(),
			Authorities: authorities,
			Key:         keys[id],
		})
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		s.nodes = append(s.nodes, node.New(node.Config{
			ID:                id,
			Seed:              cfg.Simulation.Seed*nodeSeedStride + int64(id),
			Tick:              cfg.Mining.Tick,
			Batch:             cfg.Mining.Batch,
			BlockInterval:     cfg.Mining.BlockInterval,
			ConsensusInterval: cfg.Consensus.Interval,
			Gossip: gossip.Config{
				RequestTTL: cfg.Gossip.RequestTTL,
				DropRate:   cfg.Network.DropRate,
				CacheSize:  cfg.Gossip.InvalidCacheSize,
			},
		}, policy, s.sched, topo, s, s.metrics))
	}
	return s, nil
}

// authorities derives every node's signing key and the shared authority set.
// Keys are only needed by the authority scheme.
func (s *Simulator) authorities() ([]*consensus.SigningKey, *consensus.AuthoritySet) {
	keys := make([]*consensus.SigningKey, s.cfg.Simulation.Nodes)
	if consensus.Scheme(s.cfg.Consensus.Sealing) != consensus.SchemeAuthority {
		return keys, nil
	}
	set := consensus.NewAuthoritySet()
	for id := range keys {
		keys[id] = consensus.DeriveSigningKey(s.cfg.Simulation.Seed, id)
		set.Add(id, keys[id].PublicKey())
	}
	return keys, set
}

// Peer implements gossip.Directory.
func (s *Simulator) Peer(id int) (gossip.Peer, bool) {
	n, ok := s.Node(id)
	if !ok {
		return nil, false
	}
	return n, true
}

func (s *Simulator) Node(id int) (*node.Node, bool) {
	if id < 0 || id >= len(s.nodes) {
		return nil, false
	}
	return s.nodes[id], true
}

func (s *Simulator) Nodes() []*node.Node { return s.nodes }

func (s *Simulator) Scheduler() *clock.Scheduler { return s.sched }

func (s *Simulator) Topology() *network.Topology { return s.topo }

func (s *Simulator) Metrics() *metrics.Counters { return s.metrics }

func (s *Simulator) Config() config.Config { return s.cfg }

// Connect adds an edge between two nodes.
func (s *Simulator) Connect(a, b int) error {
	na, ok := s.Node(a)
	if !ok {
		return fmt.Errorf("unknown node %d", a)
	}
	if _, ok := s.Node(b); !ok {
		return fmt.Errorf("unknown node %d", b)
	}
	na.AddPeer(b)
	s.nodes[b].Wake()
	return nil
}

// Disconnect removes the edge between two nodes.
func (s *Simulator) Disconnect(a, b int) error {
	na, ok := s.Node(a)
	if !ok {
		return fmt.Errorf("unknown node %d", a)
	}
	na.RemovePeer(b)
	return nil
}

// StartMining turns mining on for count nodes picked at random from the run
// seed and returns their ids in ascending order.
func (s *Simulator) StartMining(count int) []int {
	if count > len(s.nodes) {
		count = len(s.nodes)
	}
	miners := s.rng.Perm(len(s.nodes))[:count]
	sort.Ints(miners)
	for _, id := range miners {
		s.nodes[id].StartMining()
	}
	return miners
}

// StopMining turns mining off on every node.
func (s *Simulator) StopMining() {
	for _, n := range s.nodes {
		n.StopMining()
	}
}

// Run starts consensus on every node and mining on the configured number of
// miners, runs the clock to the configured duration, stops mining and
// reports. With a settle period, in-flight gossip and head selection continue
// for that long after mining stopped.
func (s *Simulator) Run(ctx context.Context) (models.RunSummary, error) {
	for _, n := range s.nodes {
		n.Start()
	}
	miners := s.StartMining(s.cfg.Simulation.Miners)

	logger.Logger.Info("Simulation started",
		zap.Int64("seed", s.cfg.Simulation.Seed),
		zap.String("policy", s.cfg.Consensus.Policy),
		zap.Int("nodes", len(s.nodes)),
		zap.Ints("miners", miners),
		zap.Float64("duration", s.cfg.Simulation.Duration))

	err := s.sched.RunUntil(ctx, s.cfg.Simulation.Duration)
	s.StopMining()
	if err == nil && s.cfg.Simulation.Settle > 0 {
		err = s.sched.RunUntil(ctx, s.cfg.Simulation.Duration+s.cfg.Simulation.Settle)
	}
	for _, n := range s.nodes {
		n.Stop()
	}
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("simulation interrupted at %.2f: %w", s.sched.Now(), err)
	}

	summary := s.Summary()
	logger.Logger.Info("Simulation finished",
		zap.Int64("seed", s.cfg.Simulation.Seed),
		zap.Uint64("events", summary.Events),
		zap.Bool("converged", summary.Converged),
		zap.Uint64("blocks_mined", summary.Metrics[string(metrics.BlocksMined)]))
	return summary, nil
}

var runSeq atomic.Uint64

// newRunID names a run by policy and seed. The sequence keeps ids unique for
// simulators created within the same millisecond.
func newRunID(cfg config.Config) string {
	return fmt.Sprintf("%s-%d-%d-%d", cfg.Consensus.Policy, cfg.Simulation.Seed,
		time.Now().UnixMilli(), runSeq.Add(1))
}

// ID names the run in summaries and the archive.
func (s *Simulator) ID() string { return s.id }

// Summary reports the current state of every node and the counters.
func (s *Simulator) Summary() models.RunSummary {
	created := time.Now().UnixMilli()
	summary := models.RunSummary{
		ID:        s.id,
		Seed:      s.cfg.Simulation.Seed,
		Policy:    s.cfg.Consensus.Policy,
		Sealing:   string(s.nodes[0].Policy().Sealer().Scheme()),
		Duration:  s.sched.Now(),
		Events:    s.sched.Executed(),
		Metrics:   s.metrics.Snapshot(),
		Converged: true,
		CreatedAt: created,
	}
	for _, n := range s.nodes {
		ns := n.Summary()
		if ns.HeadID != s.nodes[0].Head() {
			summary.Converged = false
		}
		summary.Nodes = append(summary.Nodes, ns)
	}
	return summary
}

// Snapshots copies every node's ledger.
func (s *Simulator) Snapshots() []models.LedgerSnapshot {
	out := make([]models.LedgerSnapshot, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Ledger().Snapshot(n.ID()))
	}
	return out
}

// Result is a finished run with the ledgers it ended with.
type Result struct {
	Summary   models.RunSummary
	Snapshots []models.LedgerSnapshot
}

// RunBatch runs one independent simulation per configuration in parallel.
// Results keep the order of cfgs. The first failure cancels the others.
func RunBatch(ctx context.Context, cfgs []config.Config) ([]Result, error) {
	results := make([]Result, len(cfgs))
	g, ctx := errgroup.WithContext(ctx)
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			s, err := New(cfg)
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			summary, err := s.Run(ctx)
			if err != nil {
				return fmt.Errorf("run %d: %w", i, err)
			}
			results[i] = Result{Summary: summary, Snapshots: s.Snapshots()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
