package sched

import (
	"testing"
	"time"
)

func TestEventsRunInTimeThenInsertionOrder(t *testing.T) {
	s := New()
	var got []string
	s.ScheduleAfter(2*time.Second, func() { got = append(got, "c") })
	s.ScheduleAfter(time.Second, func() { got = append(got, "a") })
	s.ScheduleAfter(time.Second, func() { got = append(got, "b") })
	s.RunUntil(5 * time.Second)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("order: %v", got)
	}
	if s.Now() != 5*time.Second {
		t.Fatalf("now=%v", s.Now())
	}
	if s.Fired() != 3 {
		t.Fatalf("fired=%d", s.Fired())
	}
}

func TestCancel(t *testing.T) {
	s := New()
	ran := 0
	id := s.ScheduleAfter(time.Second, func() { ran++ })
	s.Cancel(id)
	s.Cancel(id)
	s.Cancel(0)
	if s.Pending() != 0 {
		t.Fatalf("pending=%d", s.Pending())
	}
	s.RunUntil(2 * time.Second)
	if ran != 0 {
		t.Fatalf("cancelled event ran")
	}

	fired := s.ScheduleAfter(0, func() { ran++ })
	s.RunUntil(s.Now())
	s.Cancel(fired)
	if ran != 1 {
		t.Fatalf("ran=%d", ran)
	}
}

func TestSelfReschedulingCallback(t *testing.T) {
	s := NewAt(10 * time.Second)
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		s.ScheduleAfter(100*time.Millisecond, tick)
	}
	s.ScheduleAfter(0, tick)
	s.RunUntil(11 * time.Second)
	if ticks != 11 {
		t.Fatalf("ticks=%d", ticks)
	}
	if s.Pending() != 1 {
		t.Fatalf("pending=%d", s.Pending())
	}
}
