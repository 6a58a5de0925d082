package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSkipsDisabledJobs(t *testing.T) {
	t.Parallel()

	noop := func(context.Context) error { return nil }
	s, err := New([]Job{
		{Name: "sync", Interval: time.Hour, Run: noop},
		{Name: "notify", Interval: 0, Run: noop},
	}, nil)
	require.NoError(t, err)
	require.Len(t, s.Jobs(), 1)
	require.Equal(t, "sync", s.Jobs()[0].Name)
}

func TestNewRejectsMissingRun(t *testing.T) {
	t.Parallel()

	_, err := New([]Job{{Name: "index", Interval: time.Second}}, nil)
	require.Error(t, err)
}

func TestRunFiresUntilCanceled(t *testing.T) {
	t.Parallel()

	var ok, failing atomic.Int32
	s, err := New([]Job{
		{Name: "ok", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			ok.Add(1)
			return nil
		}},
		{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		}},
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return ok.Load() >= 2 && failing.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
