package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLayouts(t *testing.T) {
	cases := []struct {
		layout Layout
		edges  int
		peers0 []int
	}{
		{FullyConnected, 10, []int{1, 2, 3, 4}},
		{Line, 4, []int{1}},
		{Star, 4, []int{1, 2, 3, 4}},
		{Ring, 5, []int{1, 4}},
	}
	for _, tc := range cases {
		top, err := Build(tc.layout, 5, 0, 1, 0.1, 0.5)
		require.NoError(t, err)
		assert.Equal(t, tc.edges, top.Edges(), tc.layout)
		assert.Equal(t, tc.peers0, top.Peers(0), tc.layout)
	}

	_, err := Build("mesh", 3, 0, 1, 0.1, 0.5)
	assert.ErrorIs(t, err, ErrUnknownTopology)
}

func TestRandomLayoutIsDeterministic(t *testing.T) {
	a, err := Build(Random, 20, 3, 42, 0.1, 0.5)
	require.NoError(t, err)
	b, err := Build(Random, 20, 3, 42, 0.1, 0.5)
	require.NoError(t, err)
	for id := 0; id < 20; id++ {
		assert.Equal(t, a.Peers(id), b.Peers(id))
	}
}

func TestDelayBoundsAndSymmetry(t *testing.T) {
	top := New(9, 0.1, 0.5)
	for a := 0; a < 10; a++ {
		for b := 0; b < 10; b++ {
			d := top.Delay(a, b)
			assert.GreaterOrEqual(t, d, 0.1)
			assert.LessOrEqual(t, d, 0.5)
			assert.Equal(t, d, top.Delay(b, a))
		}
	}
	assert.NotEqual(t, top.Delay(0, 1), New(10, 0.1, 0.5).Delay(0, 1))
}

func TestAddRemoveEdge(t *testing.T) {
	top := New(1, 0.1, 0.1)
	top.AddEdge(2, 1)
	top.AddEdge(1, 2)
	top.AddEdge(3, 3)
	top.AddEdge(2, 0)
	assert.Equal(t, []int{0, 1}, top.Peers(2))
	assert.True(t, top.Connected(1, 2))
	assert.Empty(t, top.Peers(3))

	top.RemoveEdge(1, 2)
	assert.False(t, top.Connected(2, 1))
	assert.Equal(t, []int{0}, top.Peers(2))
	assert.Equal(t, 0.1, top.Delay(0, 2))
}
