package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnce_RunsEveryJobDespiteFailures(t *testing.T) {
	var order []string
	tk := NewTicker(time.Hour, zerolog.Nop(),
		Job{Name: "a", Run: func(context.Context) error { order = append(order, "a"); return errors.New("boom") }},
		Job{Name: "b", Run: func(context.Context) error { order = append(order, "b"); return nil }},
	)

	assert.True(t, tk.RunOnce(context.Background()))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestRunOnce_SkipsOverlappingPass(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	tk := NewTicker(time.Hour, zerolog.Nop(), Job{Name: "slow", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})

	done := make(chan bool)
	go func() { done <- tk.RunOnce(context.Background()) }()
	<-started

	assert.False(t, tk.RunOnce(context.Background()))
	close(release)
	assert.True(t, <-done)
}

func TestStart_TicksUntilStopped(t *testing.T) {
	var runs atomic.Int32
	tk := NewTicker(5*time.Millisecond, zerolog.Nop(), Job{Name: "count", Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})

	errCh := make(chan error)
	go func() { errCh <- tk.Start(context.Background()) }()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, time.Millisecond)
	tk.Stop()
	tk.Stop()
	assert.NoError(t, <-errCh)
}

func TestStart_ContextCancel(t *testing.T) {
	tk := NewTicker(time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tk.Start(ctx), context.Canceled)
}
