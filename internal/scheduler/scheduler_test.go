package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobsRepeatAndRecordRuns(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := New(context.Background(), logger)

	var ok, failing atomic.Int32
	require.NoError(t, s.Add("save-measures", 20*time.Millisecond, func(context.Context) error {
		ok.Add(1)
		return nil
	}))
	require.NoError(t, s.Add("publish-measures", 20*time.Millisecond, func(context.Context) error {
		failing.Add(1)
		return errors.New("sink answered 500")
	}))

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return ok.Load() >= 2 && failing.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	runs := s.LastRuns()
	require.Len(t, runs, 2)
	assert.Equal(t, "publish-measures", runs[0].Name)
	assert.Equal(t, "sink answered 500", runs[0].Error)
	assert.Equal(t, "save-measures", runs[1].Name)
	assert.Empty(t, runs[1].Error)
	assert.False(t, runs[1].StartedAt.IsZero())
}

func TestAddRejectsNonPositiveInterval(t *testing.T) {
	logger, _ := test.NewNullLogger()
	s := New(context.Background(), logger)
	assert.Error(t, s.Add("save-measures", 0, func(context.Context) error { return nil }))
}

func TestCancelledContextSkipsRuns(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(ctx, logger)

	var calls atomic.Int32
	require.NoError(t, s.Add("save-measures", 10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	s.Start()
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Zero(t, calls.Load())
	assert.Empty(t, s.LastRuns())
}
