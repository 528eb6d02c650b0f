package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestScheduler_AddRejectsBadJobs(t *testing.T) {
	s := NewScheduler(time.UTC, time.Second, zaptest.NewLogger(t))
	require.Error(t, s.Add(Job{Name: "nil", Spec: "@every 1m"}))
	require.Error(t, s.Add(Job{Name: "bad", Spec: "not a spec", Run: func(context.Context) error { return nil }}))
	require.NoError(t, s.Add(Job{Name: "ok", Spec: "*/5 * * * *", Run: func(context.Context) error { return nil }}))
}

func TestScheduler_WrapAppliesTimeout(t *testing.T) {
	s := NewScheduler(nil, 10*time.Millisecond, zaptest.NewLogger(t))
	var sawDeadline atomic.Bool
	s.wrap(Job{Name: "slow", Run: func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		<-ctx.Done()
		return ctx.Err()
	}})()
	require.True(t, sawDeadline.Load())

	// failures are logged, never panicking the scheduler
	s.wrap(Job{Name: "fail", Run: func(context.Context) error { return errors.New("boom") }})()
}

func TestScheduler_RunsAndStops(t *testing.T) {
	s := NewScheduler(time.UTC, time.Second, zaptest.NewLogger(t))
	var runs atomic.Int32
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1s", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))
	s.Start()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
