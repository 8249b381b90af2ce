// Package jobs runs the periodic batch passes inside the server process.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is one batch pass. It must be safe to run again after a failure.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Ticker runs its jobs one after another on every tick. A tick that fires
// while the previous pass is still running is skipped.
type Ticker struct {
	interval time.Duration
	jobs     []Job
	logger   zerolog.Logger

	running sync.Mutex
	stopCh  chan struct{}
	stop    sync.Once
}

// NewTicker creates a Ticker that runs jobs every interval.
func NewTicker(interval time.Duration, logger zerolog.Logger, jobs ...Job) *Ticker {
	return &Ticker{
		interval: interval,
		jobs:     jobs,
		logger:   logger.With().Str("component", "jobs").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called.
func (t *Ticker) Start(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Int("jobs", len(t.jobs)).Msg("job ticker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stopCh:
			return nil
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

// Stop stops the ticker. It is safe to call more than once.
func (t *Ticker) Stop() {
	t.stop.Do(func() { close(t.stopCh) })
}

// RunOnce runs every job once. It reports false when a pass was already
// in progress.
func (t *Ticker) RunOnce(ctx context.Context) bool {
	if !t.running.TryLock() {
		t.logger.Warn().Msg("previous pass still running, tick skipped")
		return false
	}
	defer t.running.Unlock()

	for _, job := range t.jobs {
		if ctx.Err() != nil {
			return true
		}
		start := time.Now()
		err := job.Run(ctx)
		evt := t.logger.Info()
		if err != nil {
			evt = t.logger.Error().Err(err)
		}
		evt.Str("job", job.Name).Dur("took", time.Since(start)).Msg("job finished")
	}
	return true
}
