// Package sched is a single-threaded discrete-event scheduler.
package sched

import (
	"container/heap"
	"time"
)

// EventID identifies a scheduled callback. The zero ID is never issued.
type EventID uint64

// Scheduler is what a mobility model needs from its host.
type Scheduler interface {
	Now() time.Duration
	ScheduleAfter(d time.Duration, fn func()) EventID
	Cancel(id EventID)
}

type event struct {
	id  EventID
	at  time.Duration
	seq uint64
	fn  func()

	cancelled bool
	index     int
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *eventQueue) Push(x any) {
	ev := x.(*event)
	ev.index = len(*q)
	*q = append(*q, ev)
}
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*q = old[:n-1]
	return ev
}

// Simulator runs callbacks in (time, insertion) order. It is not safe for
// concurrent use.
type Simulator struct {
	now   time.Duration
	seq   uint64
	queue eventQueue
	live  map[EventID]*event
	fired uint64
}

func New() *Simulator { return NewAt(0) }

// NewAt starts the clock at t, used when resuming from a snapshot.
func NewAt(t time.Duration) *Simulator {
	return &Simulator{now: t, live: map[EventID]*event{}}
}

func (s *Simulator) Now() time.Duration { return s.now }

// ScheduleAfter queues fn to run d after now. Negative delays run now.
func (s *Simulator) ScheduleAfter(d time.Duration, fn func()) EventID {
	if d < 0 {
		d = 0
	}
	s.seq++
	ev := &event{id: EventID(s.seq), at: s.now + d, seq: s.seq, fn: fn}
	heap.Push(&s.queue, ev)
	s.live[ev.id] = ev
	return ev.id
}

// Cancel drops a pending event. Unknown, fired or already cancelled IDs are
// ignored.
func (s *Simulator) Cancel(id EventID) {
	ev, ok := s.live[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.live, id)
	if ev.index >= 0 {
		heap.Remove(&s.queue, ev.index)
	}
}

// Pending is the number of events still queued.
func (s *Simulator) Pending() int { return len(s.live) }

// Fired is the number of callbacks run so far.
func (s *Simulator) Fired() uint64 { return s.fired }

// Next reports the time of the earliest pending event.
func (s *Simulator) Next() (time.Duration, bool) {
	if len(s.queue) == 0 {
		return 0, false
	}
	return s.queue[0].at, true
}

// Step runs the earliest pending event. It reports false when the queue is empty.
func (s *Simulator) Step() bool {
	for len(s.queue) > 0 {
		ev := heap.Pop(&s.queue).(*event)
		if ev.cancelled {
			continue
		}
		delete(s.live, ev.id)
		s.now = ev.at
		s.fired++
		ev.fn()
		return true
	}
	return false
}

// RunUntil runs every event due at or before t, then advances the clock to t.
func (s *Simulator) RunUntil(t time.Duration) {
	for {
		at, ok := s.Next()
		if !ok || at > t {
			break
		}
		s.Step()
	}
	if t > s.now {
		s.now = t
	}
}
