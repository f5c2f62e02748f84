// Package sched holds the pending-event set shared between interrupt
// handlers and the main loop. Handlers raise events; the main loop drains
// them, and each bit is cleared only by the handler assigned to it.
package sched

import "sync"

// Event is a bitmask of named events.
type Event uint32

// None is the empty set; a completion event of None raises nothing.
const None Event = 0

// Scheduler is the pending-event set.
type Scheduler struct {
	mu      sync.Mutex
	pending Event
	wake    chan struct{}
}

func New() *Scheduler {
	return &Scheduler{wake: make(chan struct{}, 1)}
}

// Reset clears every pending event.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.pending = None
	s.mu.Unlock()
}

// Raise sets ev and wakes a sleeping main loop.
func (s *Scheduler) Raise(ev Event) {
	if ev == None {
		return
	}
	s.mu.Lock()
	s.pending |= ev
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Clear removes ev from the pending set.
func (s *Scheduler) Clear(ev Event) {
	s.mu.Lock()
	s.pending &^= ev
	s.mu.Unlock()
}

// Pending returns a snapshot of the whole set.
func (s *Scheduler) Pending() Event {
	s.mu.Lock()
	p := s.pending
	s.mu.Unlock()
	return p
}

// Has reports whether every bit of ev is pending.
func (s *Scheduler) Has(ev Event) bool {
	return ev != None && s.Pending()&ev == ev
}

// Wake is a coalesced edge, signalled on every Raise.
func (s *Scheduler) Wake() <-chan struct{} { return s.wake }
