package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lancer-kit/keeper"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ keeper.StatsProvider = (*Worker)(nil)

func TestWorker_Init(t *testing.T) {
	assert.Error(t, NewWorker("* * * * *", nil).Init())
	assert.Error(t, NewWorker("every minute", func(context.Context) error { return nil }).Init())

	w := NewWorker("0 9 * * 1", func(context.Context) error { return nil }).
		InLocation(cron.WithLocation(time.UTC))
	require.NoError(t, w.Init())

	monday := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), w.NextRun(monday))
	assert.Equal(t, "0 9 * * 1", w.Stats()["spec"])
}

func TestWorker_Run(t *testing.T) {
	var runs int32
	w := NewWorker("@every 1s", func(context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	require.NoError(t, w.Init())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) > 0 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.EqualValues(t, atomic.LoadInt32(&runs), w.Stats()["runs"])
}

func TestWorker_RunFails(t *testing.T) {
	w := NewWorker("@every 1s", func(context.Context) error { return assert.AnError })
	require.NoError(t, w.Init())

	err := w.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestWorker_NotInitialized(t *testing.T) {
	w := NewWorker("@every 1s", func(context.Context) error { return nil })
	assert.Error(t, w.Run(context.Background()))
	assert.True(t, w.NextRun(time.Now()).IsZero())
}
