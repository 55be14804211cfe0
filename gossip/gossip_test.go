package gossip

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blocksim/clock"
	"blocksim/ledger"
	"blocksim/metrics"
	"blocksim/models"
	"blocksim/network"
)

type rejectRules struct{ bad map[models.BlockID]bool }

func (rejectRules) WeightOf(*models.Block) int64 { return 1 }

func (r rejectRules) VerifySeal(b *models.Block) error {
	if r.bad[b.ID] {
		return errors.New("bad seal")
	}
	return nil
}

type testPeer struct {
	id       int
	ledger   *ledger.Ledger
	gossip   *Protocol
	accepted int
}

func (p *testPeer) ID() int { return p.id }

func (p *testPeer) CopyBlock(id models.BlockID) (*models.Block, bool) {
	return p.ledger.Copy(id)
}

func (p *testPeer) Deliver(b *models.Block, from int) { p.gossip.Receive(b, from) }

func (p *testPeer) HandleRequest(id models.BlockID, origin, ttl int) {
	p.gossip.RequestMissing(id, origin, ttl)
}

type testNet struct {
	sched   *clock.Scheduler
	topo    *network.Topology
	peers   map[int]*testPeer
	metrics *metrics.Counters
}

func (n *testNet) Peer(id int) (Peer, bool) {
	p, ok := n.peers[id]
	return p, ok
}

func newTestNet(t *testing.T, topo *network.Topology, size int, cfg Config) *testNet {
	t.Helper()
	n := &testNet{
		sched:   clock.NewScheduler(),
		topo:    topo,
		peers:   make(map[int]*testPeer),
		metrics: metrics.NewCounters(),
	}
	for i := 0; i < size; i++ {
		p := &testPeer{id: i, ledger: ledger.New(rejectRules{})}
		p.gossip = New(i, cfg, p.ledger, n.sched, topo, n, rand.New(rand.NewSource(int64(i))), n.metrics,
			Hooks{Accepted: func(ledger.Result) { p.accepted++ }})
		n.peers[i] = p
	}
	return n
}

func (n *testNet) run(t *testing.T) {
	t.Helper()
	require.NoError(t, n.sched.RunUntil(context.Background(), 100))
}

func lineTopology(size int) *network.Topology {
	topo := network.New(1, 0.1, 0.5)
	for i := 1; i < size; i++ {
		topo.AddEdge(i-1, i)
	}
	return topo
}

func TestBroadcastReachesEveryNode(t *testing.T) {
	n := newTestNet(t, lineTopology(4), 4, Config{})
	origin := n.peers[0]
	b := origin.ledger.CreateBlock(origin.ledger.GenesisID(), 0, 1)
	_, err := origin.ledger.Insert(b)
	require.NoError(t, err)

	origin.gossip.Broadcast(b, NoSender)
	n.run(t)

	for id, p := range n.peers {
		assert.True(t, p.ledger.Contains(b.ID), "node %d", id)
	}
	// line of four: 0->1, 1->2, 2->3, never echoed back
	assert.Equal(t, uint64(3), n.metrics.Get(metrics.Broadcasts))
	assert.Equal(t, uint64(0), n.metrics.Get(metrics.Duplicates))
}

func TestBroadcastDeliversCopies(t *testing.T) {
	n := newTestNet(t, lineTopology(2), 2, Config{})
	origin := n.peers[0]
	b := origin.ledger.CreateBlock(origin.ledger.GenesisID(), 0, 1)
	_, err := origin.ledger.Insert(b)
	require.NoError(t, err)

	origin.gossip.Broadcast(b, NoSender)
	n.run(t)

	got, ok := n.peers[1].ledger.Get(b.ID)
	require.True(t, ok)
	assert.NotSame(t, b, got)
}

func TestReceiveDuplicateIsNoop(t *testing.T) {
	n := newTestNet(t, lineTopology(2), 2, Config{})
	p := n.peers[1]
	b := p.ledger.CreateBlock(p.ledger.GenesisID(), 0, 1)

	p.gossip.Receive(b.Detach(), 0)
	p.gossip.Receive(b.Detach(), 0)

	assert.Equal(t, 1, p.accepted)
	assert.Equal(t, uint64(1), n.metrics.Get(metrics.Duplicates))
	assert.Equal(t, 2, p.ledger.Len())
}

func TestReceiveOrphanRequestsParent(t *testing.T) {
	n := newTestNet(t, lineTopology(2), 2, DefaultConfig())
	holder, late := n.peers[0], n.peers[1]
	a := holder.ledger.CreateBlock(holder.ledger.GenesisID(), 0, 1)
	b := holder.ledger.CreateBlock(a.ID, 0, 2)
	_, err := holder.ledger.Insert(a)
	require.NoError(t, err)
	_, err = holder.ledger.Insert(b)
	require.NoError(t, err)

	late.gossip.Receive(b.Detach(), 0)
	assert.True(t, late.ledger.IsPending(b.ID))
	assert.True(t, late.gossip.SeenRequest(1, a.ID))

	n.run(t)
	assert.True(t, late.ledger.Contains(a.ID))
	assert.True(t, late.ledger.Contains(b.ID))
	assert.Zero(t, late.ledger.PendingCount())
}

func TestRequestForwardedWithinTTL(t *testing.T) {
	// 0 - 1 - 2 - 3: only node 3 holds the block, a neighbour of the third hop.
	n := newTestNet(t, lineTopology(4), 4, Config{RequestTTL: 3})
	holder := n.peers[3]
	a := holder.ledger.CreateBlock(holder.ledger.GenesisID(), 3, 1)
	_, err := holder.ledger.Insert(a)
	require.NoError(t, err)

	n.peers[0].gossip.RequestMissing(a.ID, 0, 3)
	n.run(t)

	assert.True(t, n.peers[0].ledger.Contains(a.ID))
	assert.Zero(t, n.metrics.Get(metrics.RequestsExhausted))
}

func TestRequestExhaustsTTL(t *testing.T) {
	n := newTestNet(t, lineTopology(4), 4, Config{})
	holder := n.peers[3]
	a := holder.ledger.CreateBlock(holder.ledger.GenesisID(), 3, 1)
	_, err := holder.ledger.Insert(a)
	require.NoError(t, err)

	n.peers[0].gossip.RequestMissing(a.ID, 0, 1)
	n.run(t)

	assert.False(t, n.peers[0].ledger.Contains(a.ID))
	assert.Equal(t, uint64(1), n.metrics.Get(metrics.RequestsExhausted))
}

func TestRequestHandledOncePerOrigin(t *testing.T) {
	topo, err := network.Build(network.FullyConnected, 5, 0, 1, 0.1, 0.5)
	require.NoError(t, err)
	n := newTestNet(t, topo, 5, Config{})
	missing := models.DeriveID("nowhere", 9, 1)

	n.peers[0].gossip.RequestMissing(missing, 0, 5)
	n.run(t)

	for id, p := range n.peers {
		assert.True(t, p.gossip.SeenRequest(0, missing), "node %d", id)
		assert.Equal(t, 1, p.gossip.SeenRequests(), "node %d", id)
	}
	// each node forwards at most once to each of its four peers
	assert.LessOrEqual(t, n.metrics.Get(metrics.RequestsSent), uint64(5*4))
}

func TestDropRateOneLosesEverything(t *testing.T) {
	n := newTestNet(t, lineTopology(3), 3, Config{DropRate: 1})
	origin := n.peers[1]
	b := origin.ledger.CreateBlock(origin.ledger.GenesisID(), 1, 1)
	_, err := origin.ledger.Insert(b)
	require.NoError(t, err)

	origin.gossip.Broadcast(b, NoSender)
	n.run(t)

	assert.False(t, n.peers[0].ledger.Contains(b.ID))
	assert.False(t, n.peers[2].ledger.Contains(b.ID))
	assert.Equal(t, uint64(2), n.metrics.Get(metrics.DroppedBlocks))
}

func TestInvalidBlockCached(t *testing.T) {
	n := newTestNet(t, lineTopology(2), 2, Config{})
	p := n.peers[1]
	b := p.ledger.CreateBlock(p.ledger.GenesisID(), 0, 1)
	p.ledger = ledger.New(rejectRules{bad: map[models.BlockID]bool{b.ID: true}})
	p.gossip.ledger = p.ledger

	p.gossip.Receive(b.Detach(), 0)
	p.gossip.Receive(b.Detach(), 0)

	assert.Equal(t, uint64(1), n.metrics.Get(metrics.InvalidBlocks))
	assert.False(t, p.ledger.Contains(b.ID))
	assert.Zero(t, n.metrics.Get(metrics.Broadcasts))
}

func TestInactiveNodeIgnoresBlocks(t *testing.T) {
	sched := clock.NewScheduler()
	l := ledger.New(nil)
	topo := network.New(1, 0.1, 0.5)
	p := New(0, Config{}, l, sched, topo, &testNet{peers: map[int]*testPeer{}}, rand.New(rand.NewSource(1)), nil,
		Hooks{Active: func() bool { return false }})

	b := l.CreateBlock(l.GenesisID(), 1, 1)
	p.Receive(b, 1)
	assert.False(t, l.Contains(b.ID))
}

func TestResetForgetsRequests(t *testing.T) {
	n := newTestNet(t, lineTopology(2), 2, Config{})
	p := n.peers[0].gossip
	p.RequestMissing("x", 0, 0)
	require.True(t, p.SeenRequest(0, "x"))

	p.Reset()
	assert.False(t, p.SeenRequest(0, "x"))
	assert.Zero(t, p.SeenRequests())
}

func TestZeroTTLDisablesAncestorSearch(t *testing.T) {
	n := newTestNet(t, lineTopology(2), 2, Config{RequestTTL: 0})
	holder, late := n.peers[0], n.peers[1]
	a := holder.ledger.CreateBlock(holder.ledger.GenesisID(), 0, 1)
	b := holder.ledger.CreateBlock(a.ID, 0, 2)
	_, err := holder.ledger.Insert(a)
	require.NoError(t, err)
	_, err = holder.ledger.Insert(b)
	require.NoError(t, err)

	late.gossip.Receive(b.Detach(), 0)
	n.run(t)

	assert.True(t, late.ledger.IsPending(b.ID))
	assert.False(t, late.ledger.Contains(a.ID))
	assert.Equal(t, uint64(1), n.metrics.Get(metrics.RequestsExhausted))
	assert.Zero(t, n.metrics.Get(metrics.RequestsSent))
}
