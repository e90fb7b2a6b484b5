package tasks

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Scheduler runs delayed tasks keyed by name. Scheduling a key that is
// already pending replaces the earlier task. A fired task is handed to the
// Supervisor; callers must still re-check their own state when it runs,
// since a Cancel can race with the timer firing.
type Scheduler struct {
	sup *Supervisor

	mu      sync.Mutex
	pending map[string]*scheduled
	closed  bool
}

type scheduled struct {
	timer *time.Timer
}

// NewScheduler creates a Scheduler whose tasks run under sup.
func NewScheduler(sup *Supervisor) *Scheduler {
	return &Scheduler{sup: sup, pending: make(map[string]*scheduled)}
}

// Schedule arms fn to run after delay under key.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if prev, ok := s.pending[key]; ok {
		prev.timer.Stop()
	}

	t := &scheduled{}
	t.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.pending[key] != t {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.mu.Unlock()

		_ = s.sup.Go(key, func(ctx context.Context) error {
			fn(ctx)
			return nil
		}, nil)
	})
	s.pending[key] = t
	return nil
}

// Cancel stops the task under key. It reports whether a pending task was
// removed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.pending, key)
	return true
}

// CancelPrefix stops every pending task whose key starts with prefix.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, t := range s.pending {
		if strings.HasPrefix(key, prefix) {
			t.timer.Stop()
			delete(s.pending, key)
			n++
		}
	}
	return n
}

// Pending reports whether a task is armed under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Close stops every pending timer and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for key, t := range s.pending {
		t.timer.Stop()
		delete(s.pending, key)
	}
}
