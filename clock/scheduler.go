// Package clock is the discrete-event kernel driving a simulation. Events run
// one at a time in timestamp order; events scheduled for the same instant run
// in the order they were scheduled.
package clock

import (
	"container/heap"
	"context"
	"errors"
)

// ErrPastEvent is returned by At when the requested time is before Now.
var ErrPastEvent = errors.New("event scheduled in the past")

type event struct {
	when float64
	seq  uint64
	fn   func()
}

type eventQueue []event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].when != q[j].when {
		return q[i].when < q[j].when
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x interface{}) {
	*q = append(*q, x.(event))
}
func (q *eventQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	old[n-1] = event{}
	*q = old[:n-1]
	return x
}

// Scheduler owns simulated time. It is not safe for concurrent use: all
// callbacks run on the goroutine that drives it.
type Scheduler struct {
	now      float64
	seq      uint64
	executed uint64
	queue    eventQueue
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Now returns the current simulated time.
func (s *Scheduler) Now() float64 {
	return s.now
}

// Len returns the number of events still queued.
func (s *Scheduler) Len() int {
	return len(s.queue)
}

// Executed returns the number of events run so far.
func (s *Scheduler) Executed() uint64 {
	return s.executed
}

// Schedule runs fn after delay units of simulated time. Negative delays are
// treated as zero.
func (s *Scheduler) Schedule(delay float64, fn func()) {
	if delay < 0 {
		delay = 0
	}
	s.push(s.now+delay, fn)
}

// At runs fn at the absolute time t.
func (s *Scheduler) At(t float64, fn func()) error {
	if t < s.now {
		return ErrPastEvent
	}
	s.push(t, fn)
	return nil
}

func (s *Scheduler) push(when float64, fn func()) {
	heap.Push(&s.queue, event{when: when, seq: s.seq, fn: fn})
	s.seq++
}

// Step runs the earliest queued event. It returns false when the queue is empty.
func (s *Scheduler) Step() bool {
	if len(s.queue) == 0 {
		return false
	}
	ev := heap.Pop(&s.queue).(event)
	s.now = ev.when
	s.executed++
	ev.fn()
	return true
}

// RunUntil runs events whose time is not after until, then advances the clock
// to until. The context is checked between events.
func (s *Scheduler) RunUntil(ctx context.Context, until float64) error {
	for len(s.queue) > 0 && s.queue[0].when <= until {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.Step()
	}
	if until > s.now {
		s.now = until
	}
	return nil
}

// Drain runs events until the queue is empty or limit events have run. A
// limit of zero means no limit. It returns the number of events run.
func (s *Scheduler) Drain(limit int) int {
	n := 0
	for (limit == 0 || n < limit) && s.Step() {
		n++
	}
	return n
}
