// Package metrics holds the counters the simulation core increments. The
// core only writes them; reporting reads a snapshot.
package metrics

import (
	"sort"
	"sync/atomic"
)

// Counter names a metric.
type Counter string

const (
	BlocksMined         Counter = "blocks_mined"
	Forks               Counter = "forks"
	DroppedBlocks       Counter = "dropped_blocks"
	Broadcasts          Counter = "broadcasts"
	ForkResolutions     Counter = "fork_resolutions"
	ConsensusExecutions Counter = "consensus_executions"
	InvalidBlocks       Counter = "invalid_blocks"
	Duplicates          Counter = "duplicates"
	RequestsSent        Counter = "requests_sent"
	RequestsExhausted   Counter = "requests_exhausted"
)

// All lists every counter in reporting order.
var All = []Counter{
	BlocksMined, Forks, DroppedBlocks, Broadcasts, ForkResolutions,
	ConsensusExecutions, InvalidBlocks, Duplicates, RequestsSent, RequestsExhausted,
}

// Sink receives counter increments.
type Sink interface {
	Inc(c Counter)
}

// Counters is a Sink safe for concurrent readers.
type Counters struct {
	values map[Counter]*atomic.Uint64
}

func NewCounters() *Counters {
	c := &Counters{values: make(map[Counter]*atomic.Uint64, len(All))}
	for _, name := range All {
		c.values[name] = new(atomic.Uint64)
	}
	return c
}

func (c *Counters) Inc(name Counter) {
	if v, ok := c.values[name]; ok {
		v.Add(1)
	}
}

// Get returns the current value of a counter.
func (c *Counters) Get(name Counter) uint64 {
	if v, ok := c.values[name]; ok {
		return v.Load()
	}
	return 0
}

// Snapshot copies every counter.
func (c *Counters) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, len(c.values))
	for name, v := range c.values {
		out[string(name)] = v.Load()
	}
	return out
}

// Names returns the counter names of a snapshot, sorted.
func Names(snapshot map[string]uint64) []string {
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Discard drops every increment.
type Discard struct{}

func (Discard) Inc(Counter) {}
