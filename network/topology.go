// Package network models who talks to whom and how long a message takes.
// Peer graphs are undirected; delays are fixed per pair for a given seed.
package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
)

// ErrUnknownTopology is returned by Build for an unrecognised layout name.
var ErrUnknownTopology = errors.New("unknown topology")

// Model supplies peer sets and per-edge delay.
type Model interface {
	// Delay returns the one-way delay between a and b, within the
	// configured bounds.
	Delay(a, b int) float64
	// Peers returns the neighbours of id in ascending order.
	Peers(id int) []int
}

// Topology is a static peer graph.
type Topology struct {
	seed     int64
	minDelay float64
	maxDelay float64
	peers    map[int][]int
}

// New returns an empty topology whose delays lie in [minDelay, maxDelay].
func New(seed int64, minDelay, maxDelay float64) *Topology {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Topology{
		seed:     seed,
		minDelay: minDelay,
		maxDelay: maxDelay,
		peers:    make(map[int][]int),
	}
}

// AddEdge connects a and b. Self loops and repeated edges are ignored.
func (t *Topology) AddEdge(a, b int) {
	if a == b || t.Connected(a, b) {
		return
	}
	t.peers[a] = insertSorted(t.peers[a], b)
	t.peers[b] = insertSorted(t.peers[b], a)
}

// RemoveEdge disconnects a and b.
func (t *Topology) RemoveEdge(a, b int) {
	t.peers[a] = remove(t.peers[a], b)
	t.peers[b] = remove(t.peers[b], a)
}

// Connected reports whether a and b are neighbours.
func (t *Topology) Connected(a, b int) bool {
	list := t.peers[a]
	i := sort.SearchInts(list, b)
	return i < len(list) && list[i] == b
}

func (t *Topology) Peers(id int) []int {
	return append([]int(nil), t.peers[id]...)
}

// Edges returns the number of undirected edges.
func (t *Topology) Edges() int {
	n := 0
	for _, list := range t.peers {
		n += len(list)
	}
	return n / 2
}

// Delay hashes the unordered pair with the seed, so the same pair always
// sees the same delay in both directions and across replays.
func (t *Topology) Delay(a, b int) float64 {
	if a > b {
		a, b = b, a
	}
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:], uint64(t.seed))
	binary.BigEndian.PutUint64(buf[8:], uint64(int64(a)))
	binary.BigEndian.PutUint64(buf[16:], uint64(int64(b)))
	h := fnv.New64a()
	h.Write(buf[:])
	frac := float64(h.Sum64()>>11) / float64(1<<53)
	return t.minDelay + frac*(t.maxDelay-t.minDelay)
}

func insertSorted(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

func remove(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	if i < len(list) && list[i] == v {
		return append(list[:i], list[i+1:]...)
	}
	return list
}

// Layout names a peer graph shape.
type Layout string

const (
	FullyConnected Layout = "full"
	Line           Layout = "line"
	Star           Layout = "star"
	Ring           Layout = "ring"
	Random         Layout = "random"
)

// Layouts lists the layouts Build accepts.
func Layouts() []Layout {
	return []Layout{FullyConnected, Line, Star, Ring, Random}
}

// Build creates a topology of n nodes with the given layout. expectedPeers
// is used by the random layout only.
func Build(layout Layout, n, expectedPeers int, seed int64, minDelay, maxDelay float64) (*Topology, error) {
	t := New(seed, minDelay, maxDelay)
	switch layout {
	case FullyConnected:
		for a := 0; a < n; a++ {
			for b := a + 1; b < n; b++ {
				t.AddEdge(a, b)
			}
		}
	case Line:
		for a := 0; a+1 < n; a++ {
			t.AddEdge(a, a+1)
		}
	case Star:
		for a := 1; a < n; a++ {
			t.AddEdge(0, a)
		}
	case Ring:
		for a := 0; a < n && n > 1; a++ {
			t.AddEdge(a, (a+1)%n)
		}
	case Random:
		rng := rand.New(rand.NewSource(seed))
		p := 1.0
		if n > 1 {
			p = float64(expectedPeers) / float64(n-1)
		}
		for a := 0; a < n; a++ {
			for b := a + 1; b < n; b++ {
				if rng.Float64() < p {
					t.AddEdge(a, b)
				}
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopology, layout)
	}
	return t, nil
}
