package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blocksim/ledger"
	"blocksim/models"
)

func newPolicy(t *testing.T, kind Kind, opts Options) Policy {
	t.Helper()
	if opts.Sealing == "" {
		opts.Sealing = SchemeNone
	}
	p, err := New(kind, opts)
	require.NoError(t, err)
	return p
}

func add(t *testing.T, l *ledger.Ledger, id, parent models.BlockID, miner int) {
	t.Helper()
	res, err := l.Insert(&models.Block{ID: id, ParentID: parent, MinerID: miner})
	require.NoError(t, err)
	require.Equal(t, ledger.Accepted, res.Outcome)
}

func TestGhostTieBreakPicksSmallerID(t *testing.T) {
	p := newPolicy(t, KindGhost, Options{})
	l := ledger.New(p)
	g := l.GenesisID()
	add(t, l, "7", g, 1)
	add(t, l, "5", g, 2)

	assert.Equal(t, models.BlockID("5"), p.SelectHead(l))
}

func TestGhostFollowsHeaviestSubtree(t *testing.T) {
	p := newPolicy(t, KindGhost, Options{})
	l := ledger.New(p)
	g := l.GenesisID()
	// a has a long thin chain, b a bushy subtree with more total weight
	add(t, l, "a", g, 1)
	add(t, l, "a1", "a", 1)
	add(t, l, "a2", "a1", 1)
	add(t, l, "b", g, 2)
	add(t, l, "b1", "b", 2)
	add(t, l, "b2", "b", 3)
	add(t, l, "b3", "b", 4)

	assert.Equal(t, models.BlockID("b1"), p.SelectHead(l))
	require.NoError(t, l.SetHead(p.SelectHead(l)))
}

func TestLongestChainUsesChildCountThenReach(t *testing.T) {
	p := newPolicy(t, KindLongestChain, Options{})
	l := ledger.New(p)
	g := l.GenesisID()
	add(t, l, "x", g, 1)
	add(t, l, "x1", "x", 1)
	add(t, l, "x2", "x1", 1)
	add(t, l, "y", g, 2)
	add(t, l, "y1", "y", 2)

	// x and y both have one child; x reaches deeper
	assert.Equal(t, models.BlockID("x2"), p.SelectHead(l))

	add(t, l, "y2", "y", 3)
	assert.Equal(t, models.BlockID("y1"), p.SelectHead(l))
}

func TestProofOfStakePrefersStake(t *testing.T) {
	stakes := Stakes{1: 10, 2: 3}
	p := newPolicy(t, KindProofOfStake, Options{Stakes: stakes})
	l := ledger.New(p)
	g := l.GenesisID()
	add(t, l, "lo", g, 2)
	add(t, l, "lo1", "lo", 2)
	add(t, l, "lo2", "lo1", 2)
	add(t, l, "hi", g, 1)

	got, _ := l.Get("hi")
	assert.Equal(t, int64(10), got.Weight)
	assert.Equal(t, int64(1+10+3*3), l.Genesis().SubtreeWeight)
	assert.Equal(t, models.BlockID("hi"), p.SelectHead(l))
	// unknown miners default to a stake of one
	assert.Equal(t, int64(1), p.WeightOf(&models.Block{MinerID: 99}))
}

func TestDagWeightScansForHighestScore(t *testing.T) {
	p := newPolicy(t, KindDagWeight, Options{})
	l := ledger.New(p)
	g := l.GenesisID()
	assert.Equal(t, g, p.SelectHead(l))

	add(t, l, "m", g, 1)
	add(t, l, "n", g, 2)
	add(t, l, "n1", "n", 2)
	assert.Equal(t, models.BlockID("n1"), p.SelectHead(l))

	add(t, l, "m1", "m", 1)
	assert.Equal(t, models.BlockID("m1"), p.SelectHead(l), "equal score falls back to the smaller id")
}

func TestSelectHeadIsReachable(t *testing.T) {
	for _, kind := range Kinds() {
		p := newPolicy(t, kind, Options{})
		l := ledger.New(p)
		g := l.GenesisID()
		add(t, l, "a", g, 1)
		add(t, l, "b", "a", 1)
		add(t, l, "c", g, 2)
		// parked block must never be selected
		_, err := l.Insert(&models.Block{ID: "z", ParentID: "unknown", MinerID: 3})
		require.NoError(t, err)

		head := p.SelectHead(l)
		assert.True(t, l.IsAncestor(g, head), "policy %s", kind)
		assert.NotEqual(t, models.BlockID("z"), head)
	}
}

func TestVerifyRequiresParent(t *testing.T) {
	p := newPolicy(t, KindGhost, Options{})
	l := ledger.New(p)
	err := p.Verify(&models.Block{ID: "a", ParentID: "nope"}, l)
	assert.ErrorIs(t, err, ErrMissingParent)
	err = p.Verify(&models.Block{ID: "a"}, l)
	assert.ErrorIs(t, err, ledger.ErrNoParent)
	assert.NoError(t, p.Verify(&models.Block{ID: "a", ParentID: l.GenesisID()}, l))
}

func TestNewUnknown(t *testing.T) {
	_, err := New("raft", Options{})
	assert.ErrorIs(t, err, ErrUnknownPolicy)
	_, err = New(KindGhost, Options{Sealing: "magic"})
	assert.ErrorIs(t, err, ErrUnknownSealing)
}

func TestNewDefaultSealing(t *testing.T) {
	p, err := New(KindProofOfStake, Options{})
	require.NoError(t, err)
	assert.Equal(t, SchemeStake, p.Sealer().Scheme())

	p, err = New(KindGhost, Options{})
	require.NoError(t, err)
	assert.Equal(t, SchemePoW, p.Sealer().Scheme())
}
