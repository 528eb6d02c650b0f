package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/gamestats/internal/errs"
)

func newTestQueue(t *testing.T, size, workers, attempts int) *TaskQueue {
	t.Helper()
	q := NewTaskQueue(size, workers, attempts, zaptest.NewLogger(t))
	q.backoff = time.Millisecond
	return q
}

func TestTaskQueue_RetriesUntilSuccess(t *testing.T) {
	q := newTestQueue(t, 4, 1, 3)
	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, q.Enqueue(context.Background(), Task{
		Name: "flaky",
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		},
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never succeeded")
	}
	require.NoError(t, q.Close(context.Background()))
	require.EqualValues(t, 3, calls.Load())
}

func TestTaskQueue_PermanentErrorsAreNotRetried(t *testing.T) {
	q := newTestQueue(t, 4, 1, 5)
	var calls atomic.Int32
	for _, err := range []error{errs.ErrValidation, fmt.Errorf("wrapped: %w", errs.ErrNotFound)} {
		require.NoError(t, q.Enqueue(context.Background(), Task{
			Name: "permanent",
			Run: func(context.Context) error {
				calls.Add(1)
				return err
			},
		}))
	}
	require.NoError(t, q.Close(context.Background()))
	require.EqualValues(t, 2, calls.Load())
}

func TestTaskQueue_FullQueueRejects(t *testing.T) {
	q := newTestQueue(t, 1, 1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	block := Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, q.Enqueue(context.Background(), block))
	<-started

	noop := Task{Name: "noop", Run: func(context.Context) error { return nil }}
	require.NoError(t, q.Enqueue(context.Background(), noop))
	require.ErrorIs(t, q.Enqueue(context.Background(), noop), errs.ErrQueueFull)
	require.Equal(t, 1, q.Len())

	close(release)
	require.NoError(t, q.Close(context.Background()))
	require.Error(t, q.Enqueue(context.Background(), noop), "closed queue rejects")
}

func TestTaskQueue_CloseDrainsAndRecoversPanics(t *testing.T) {
	q := newTestQueue(t, 16, 2, 1)
	var (
		mu   sync.Mutex
		runs int
	)
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Task{Name: "count", Run: func(context.Context) error {
			mu.Lock()
			runs++
			mu.Unlock()
			return nil
		}}))
	}
	require.NoError(t, q.Enqueue(context.Background(), Task{Name: "panic", Run: func(context.Context) error {
		panic("boom")
	}}))

	require.NoError(t, q.Close(context.Background()))
	require.Equal(t, 10, runs)
}

func TestTaskQueue_CloseTimeoutCancelsInFlight(t *testing.T) {
	q := newTestQueue(t, 1, 1, 1)
	started := make(chan struct{})
	require.NoError(t, q.Enqueue(context.Background(), Task{Name: "slow", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
}

func TestUserLocks_SerializesPerUser(t *testing.T) {
	l := NewUserLocks()
	id := newID()
	other := newID()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(id)
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}

	unlockOther := l.Lock(other)
	unlockOther()
	wg.Wait()

	require.EqualValues(t, 1, maxSeen.Load())
	require.Zero(t, l.size())
}
