package knxtunnel

import (
	"sort"
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback, returned by Scheduler.AfterFunc.
type Timer interface {
	// Stop prevents the timer from firing, if it hasn't already. It returns
	// true if the stop cancelled a pending fire.
	Stop() bool
}

// Scheduler is the connection's only source of time. Production code uses
// realScheduler (backed by time.AfterFunc); tests use a virtual clock so
// retransmit/heartbeat/reconnect timing is deterministic and instant to run.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// NewRealScheduler returns the production Scheduler, backed by the runtime
// timer wheel.
func NewRealScheduler() Scheduler { return realScheduler{} }

type realScheduler struct{}

func (realScheduler) Now() time.Time { return time.Now() }

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// VirtualScheduler is a manually-advanced clock for tests. Nothing fires on
// its own; call Advance to move time forward and run any callbacks whose
// deadline has passed, in deadline order.
type VirtualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	pending []*virtualTimer
	seq     uint64
}

// NewVirtualScheduler returns a VirtualScheduler starting at the given time.
func NewVirtualScheduler(start time.Time) *VirtualScheduler {
	return &VirtualScheduler{now: start}
}

type virtualTimer struct {
	deadline time.Time
	f        func()
	seq      uint64
	fired    bool
	stopped  bool
}

func (t *virtualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Now returns the scheduler's current virtual time.
func (s *VirtualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc schedules f to run when the virtual clock reaches now+d. f runs
// synchronously, on the goroutine calling Advance, not on its own goroutine.
func (s *VirtualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &virtualTimer{deadline: s.now.Add(d), f: f, seq: s.seq}
	s.pending = append(s.pending, t)
	return t
}

// Advance moves the virtual clock forward by d, firing every pending timer
// whose deadline falls at or before the new time, in deadline order
// (ties broken by schedule order).
func (s *VirtualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	due := s.dueLocked()
	s.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (s *VirtualScheduler) dueLocked() []*virtualTimer {
	var due []*virtualTimer
	var remaining []*virtualTimer
	for _, t := range s.pending {
		if t.stopped || t.fired {
			continue
		}
		if !t.deadline.After(s.now) {
			due = append(due, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, t := range due {
		t.fired = true
	}
	s.pending = remaining
	return due
}
