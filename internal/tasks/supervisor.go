// Package tasks runs background work for the lifecycle manager and the
// canary orchestrator: supervised goroutines and keyed, cancellable timers.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"go.uber.org/zap"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("tasks: supervisor closed")

// PanicError is reported to the completion callback when a task panics.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

// Supervisor owns a set of goroutines sharing one cancellable context.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewSupervisor creates a Supervisor. A nil logger disables logging.
func NewSupervisor(logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{ctx: ctx, cancel: cancel, logger: logger}
}

// Go runs fn in its own goroutine. onDone, when non-nil, receives fn's
// error, a *PanicError if fn panicked, or context.Canceled if the
// supervisor was closed before fn finished.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error, onDone func(error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := s.run(name, fn)
		if err != nil {
			s.logger.Warn(s.ctx, "background task failed", zap.String("task", name), zap.Error(err))
		}
		if onDone != nil {
			onDone(err)
		}
	}()
	return nil
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Task: name, Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(s.ctx)
}

// Context returns the context handed to every task.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Close cancels all tasks and waits for them to return or for ctx to end.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}
