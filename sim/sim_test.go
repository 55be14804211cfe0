package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blocksim/config"
	"blocksim/metrics"
	"blocksim/models"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Simulation.Nodes = 5
	cfg.Simulation.Miners = 5
	cfg.Simulation.Duration = 20
	cfg.Simulation.Settle = 10
	cfg.Consensus.Sealing = "none"
	cfg.Mining.Batch = 1
	return cfg
}

// lineOfThree builds A - B - C with nobody mining.
func lineOfThree(t *testing.T, dropRate float64, ttl int) *Simulator {
	t.Helper()
	cfg := testConfig()
	cfg.Simulation.Nodes = 3
	cfg.Simulation.Miners = 0
	cfg.Simulation.Duration = 30
	cfg.Simulation.Settle = 0
	cfg.Network.Topology = "line"
	cfg.Network.DropRate = dropRate
	cfg.Gossip.RequestTTL = ttl
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestMissingParentRecovery(t *testing.T) {
	s := lineOfThree(t, 0, 3)
	a, _ := s.Node(0)
	b, _ := s.Node(1)

	genesis := a.Ledger().GenesisID()
	block0 := a.Ledger().CreateBlock(genesis, 0, 1)
	_, err := a.Ledger().Insert(block0)
	require.NoError(t, err)
	// C holds block0 and mines block1 on it; block1 reaches B before block0
	c, _ := s.Node(2)
	_, err = c.Ledger().Insert(block0.Detach())
	require.NoError(t, err)
	block1 := c.Ledger().CreateBlock(block0.ID, 2, 2)
	_, err = c.Ledger().Insert(block1)
	require.NoError(t, err)

	b.Deliver(block1.Detach(), 2)
	require.True(t, b.Ledger().IsPending(block1.ID))
	require.True(t, b.Gossip().SeenRequest(1, block0.ID))

	_, err = s.Run(context.Background())
	require.NoError(t, err)

	ids := make([]models.BlockID, 0)
	for _, blk := range b.Ledger().Blocks() {
		ids = append(ids, blk.ID)
	}
	assert.ElementsMatch(t, []models.BlockID{genesis, block0.ID, block1.ID}, ids)
	got, ok := b.Ledger().Get(block1.ID)
	require.True(t, ok)
	assert.Equal(t, block0.ID, got.ParentID)
	assert.Zero(t, b.Ledger().PendingCount())
	assert.Equal(t, 3, b.ChainLength())
	require.NoError(t, b.Ledger().Audit())

	// B forwarded block1 to A, so every node ends on block1
	for _, n := range s.Nodes() {
		assert.Equal(t, block1.ID, n.Head(), "node %d", n.ID())
	}
}

func TestLostAncestorStaysPending(t *testing.T) {
	s := lineOfThree(t, 1, 1)
	a, _ := s.Node(0)
	b, _ := s.Node(1)

	block0 := a.Ledger().CreateBlock(a.Ledger().GenesisID(), 0, 1)
	_, err := a.Ledger().Insert(block0)
	require.NoError(t, err)
	block1 := a.Ledger().CreateBlock(block0.ID, 2, 2)

	b.Deliver(block1.Detach(), 2)
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, b.Ledger().IsPending(block1.ID))
	assert.False(t, b.Ledger().Contains(block0.ID))
	assert.Equal(t, 1, b.ChainLength())
	assert.Equal(t, 1, summary.Nodes[1].Pending)
	assert.Positive(t, summary.Metrics[string(metrics.DroppedBlocks)])

	// exhausted or lost requests are not retried
	assert.True(t, b.Gossip().SeenRequest(1, block0.ID))
	b.Gossip().RequestMissing(block0.ID, 1, 3)
	require.NoError(t, s.Scheduler().RunUntil(context.Background(), 100))
	assert.True(t, b.Ledger().IsPending(block1.ID))
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Nodes = 8
	cfg.Simulation.Miners = 4
	cfg.Simulation.Seed = 7
	cfg.Network.Topology = "random"
	cfg.Network.DropRate = 0.2
	cfg.Consensus.Sealing = "pow"
	cfg.Consensus.Difficulty = 4
	cfg.Mining.Batch = 4

	run := func() (models.RunSummary, []models.LedgerSnapshot) {
		s, err := New(cfg)
		require.NoError(t, err)
		summary, err := s.Run(context.Background())
		require.NoError(t, err)
		return summary, s.Snapshots()
	}
	first, firstLedgers := run()
	second, secondLedgers := run()

	assert.Equal(t, first.Nodes, second.Nodes)
	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, first.Events, second.Events)
	assert.Positive(t, first.Metrics[string(metrics.BlocksMined)])
	// Identical seeds must build identical trees, not just identical heads.
	assert.Equal(t, firstLedgers, secondLedgers)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestPoliciesConverge(t *testing.T) {
	for _, policy := range []string{"ghost", "longest", "pos", "dag"} {
		t.Run(policy, func(t *testing.T) {
			cfg := testConfig()
			cfg.Consensus.Policy = policy
			cfg.Consensus.Stakes = []int64{3, 1, 1, 1, 1}

			s, err := New(cfg)
			require.NoError(t, err)
			summary, err := s.Run(context.Background())
			require.NoError(t, err)

			assert.True(t, summary.Converged)
			assert.Equal(t, policy, summary.Policy)
			for _, n := range s.Nodes() {
				require.NoError(t, n.Ledger().Audit(), "node %d", n.ID())
				assert.Greater(t, n.ChainLength(), 1, "node %d", n.ID())
			}
		})
	}
}

func TestSealingSchemes(t *testing.T) {
	for _, sealing := range []string{"pow", "stake", "authority"} {
		t.Run(sealing, func(t *testing.T) {
			cfg := testConfig()
			cfg.Consensus.Sealing = sealing
			cfg.Consensus.Difficulty = 3
			cfg.Mining.Batch = 16

			s, err := New(cfg)
			require.NoError(t, err)
			summary, err := s.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, sealing, summary.Sealing)
			assert.Positive(t, summary.Metrics[string(metrics.BlocksMined)])
			assert.Zero(t, summary.Metrics[string(metrics.InvalidBlocks)])
			assert.True(t, summary.Converged)
		})
	}
}

func TestLossyRunKeepsLedgersConsistent(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Nodes = 8
	cfg.Network.Topology = "ring"
	cfg.Network.DropRate = 0.4
	cfg.Gossip.RequestTTL = 2

	s, err := New(cfg)
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	for _, n := range s.Nodes() {
		l := n.Ledger()
		require.NoError(t, l.Audit(), "node %d", n.ID())
		assert.True(t, l.IsAncestor(l.GenesisID(), n.Head()))
	}
	assert.Positive(t, s.Metrics().Get(metrics.DroppedBlocks))
}

func TestStartMiningPicksDistinctNodes(t *testing.T) {
	cfg := testConfig()
	cfg.Simulation.Nodes = 10
	s, err := New(cfg)
	require.NoError(t, err)

	miners := s.StartMining(4)
	require.Len(t, miners, 4)
	assert.IsIncreasing(t, miners)
	for _, id := range miners {
		n, _ := s.Node(id)
		assert.True(t, n.Mining())
	}
}

func TestConnectReactivatesNode(t *testing.T) {
	s := lineOfThree(t, 0, 3)
	require.NoError(t, s.Disconnect(2, 1))
	c, _ := s.Node(2)
	require.False(t, c.Active())

	require.NoError(t, s.Connect(0, 2))
	assert.True(t, c.Active())
	assert.Error(t, s.Connect(0, 9))
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBatch(t *testing.T) {
	a, b := testConfig(), testConfig()
	b.Simulation.Seed = 2
	b.Consensus.Policy = "longest"

	results, err := RunBatch(context.Background(), []config.Config{a, b})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].Summary.Seed)
	assert.Equal(t, "longest", results[1].Summary.Policy)
	assert.Len(t, results[1].Snapshots, b.Simulation.Nodes)
}

func TestRunBatchReportsInvalidConfig(t *testing.T) {
	bad := testConfig()
	bad.Simulation.Nodes = 0
	_, err := RunBatch(context.Background(), []config.Config{testConfig(), bad})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestRunBatchIdenticalConfigsGetDistinctIDs(t *testing.T) {
	cfgs := []config.Config{testConfig(), testConfig(), testConfig(), testConfig()}
	results, err := RunBatch(context.Background(), cfgs)
	require.NoError(t, err)

	seen := make(map[string]bool, len(results))
	for _, r := range results {
		assert.False(t, seen[r.Summary.ID], "duplicate run id %s", r.Summary.ID)
		seen[r.Summary.ID] = true
	}
	assert.Equal(t, results[0].Snapshots, results[1].Snapshots)
}

func TestZeroTTLLeavesOrphanPending(t *testing.T) {
	s := lineOfThree(t, 0, 0)
	b, _ := s.Node(1)
	c, _ := s.Node(2)

	block0 := c.Ledger().CreateBlock(c.Ledger().GenesisID(), 2, 1)
	_, err := c.Ledger().Insert(block0)
	require.NoError(t, err)
	block1 := c.Ledger().CreateBlock(block0.ID, 2, 2)
	_, err = c.Ledger().Insert(block1)
	require.NoError(t, err)

	b.Deliver(block1.Detach(), 2)
	summary, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, b.Ledger().IsPending(block1.ID))
	assert.False(t, b.Ledger().Contains(block0.ID))
	assert.Equal(t, uint64(1), summary.Metrics[string(metrics.RequestsExhausted)])
	assert.Zero(t, summary.Metrics[string(metrics.RequestsSent)])
}
