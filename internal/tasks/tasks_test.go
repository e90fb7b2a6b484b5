package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/rolloutd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSupervisor_Go(t *testing.T) {
	t.Run("reports task error", func(t *testing.T) {
		sup := NewSupervisor(nil)
		defer sup.Close(context.Background())

		done := make(chan error, 1)
		boom := errors.New("boom")
		require.NoError(t, sup.Go("verify", func(context.Context) error { return boom }, func(err error) { done <- err }))

		assert.ErrorIs(t, <-done, boom)
	})

	t.Run("recovers panics", func(t *testing.T) {
		tl := logging.NewTestLogger()
		sup := NewSupervisor(tl.Logger)
		defer sup.Close(context.Background())

		done := make(chan error, 1)
		require.NoError(t, sup.Go("verify", func(context.Context) error { panic("kaboom") }, func(err error) { done <- err }))

		err := <-done
		var pe *PanicError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "verify", pe.Task)
		assert.Equal(t, "kaboom", pe.Value)
		tl.AssertLogged(t, zapcore.WarnLevel, "background task failed")
	})

	t.Run("close cancels and waits", func(t *testing.T) {
		sup := NewSupervisor(nil)
		var finished atomic.Bool
		require.NoError(t, sup.Go("wait", func(ctx context.Context) error {
			<-ctx.Done()
			finished.Store(true)
			return ctx.Err()
		}, nil))

		require.NoError(t, sup.Close(context.Background()))
		assert.True(t, finished.Load())
		assert.ErrorIs(t, sup.Go("late", func(context.Context) error { return nil }, nil), ErrClosed)
	})
}

func TestScheduler(t *testing.T) {
	t.Run("fires after delay", func(t *testing.T) {
		sup := NewSupervisor(nil)
		defer sup.Close(context.Background())
		s := NewScheduler(sup)

		fired := make(chan struct{})
		require.NoError(t, s.Schedule("promote:c1", 10*time.Millisecond, func(context.Context) { close(fired) }))
		assert.True(t, s.Pending("promote:c1"))

		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("task did not fire")
		}
		assert.Eventually(t, func() bool { return !s.Pending("promote:c1") }, time.Second, 5*time.Millisecond)
	})

	t.Run("cancel prevents firing", func(t *testing.T) {
		sup := NewSupervisor(nil)
		defer sup.Close(context.Background())
		s := NewScheduler(sup)

		var fired atomic.Bool
		require.NoError(t, s.Schedule("promote:c1", 20*time.Millisecond, func(context.Context) { fired.Store(true) }))
		assert.True(t, s.Cancel("promote:c1"))
		assert.False(t, s.Cancel("promote:c1"))

		time.Sleep(60 * time.Millisecond)
		assert.False(t, fired.Load())
	})

	t.Run("reschedule replaces", func(t *testing.T) {
		sup := NewSupervisor(nil)
		defer sup.Close(context.Background())
		s := NewScheduler(sup)

		var count atomic.Int32
		require.NoError(t, s.Schedule("cleanup:c1", 10*time.Millisecond, func(context.Context) { count.Add(10) }))
		require.NoError(t, s.Schedule("cleanup:c1", 10*time.Millisecond, func(context.Context) { count.Add(1) }))

		assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(1), count.Load())
	})

	t.Run("cancel prefix", func(t *testing.T) {
		sup := NewSupervisor(nil)
		defer sup.Close(context.Background())
		s := NewScheduler(sup)

		noop := func(context.Context) {}
		require.NoError(t, s.Schedule("c1/promote", time.Hour, noop))
		require.NoError(t, s.Schedule("c1/cleanup", time.Hour, noop))
		require.NoError(t, s.Schedule("c2/promote", time.Hour, noop))

		assert.Equal(t, 2, s.CancelPrefix("c1/"))
		assert.True(t, s.Pending("c2/promote"))
		s.Close()
		assert.False(t, s.Pending("c2/promote"))
		assert.ErrorIs(t, s.Schedule("c3/promote", time.Hour, noop), ErrClosed)
	})
}
