// Package schedule holds small timer utilities.
package schedule

import (
	"sync"
	"time"
)

// Slot holds at most one pending delayed task. Scheduling a new task replaces
// the pending one; a replaced or cancelled task never runs.
type Slot struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Schedule runs fn after d unless it is replaced or cancelled first.
func (s *Slot) Schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.gen++
	gen := s.gen
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if gen != s.gen || s.timer == nil {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

// Cancel drops the pending task. It reports whether one was pending.
func (s *Slot) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.timer != nil
	s.stopLocked()
	s.gen++
	return pending
}

// Pending reports whether a task is waiting to run.
func (s *Slot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Slot) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
