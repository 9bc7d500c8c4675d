package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Clock is the time source behind every blocking wait in the poller.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// Options tune the wall clock.
type Options struct {
	// Progress, when positive, logs the remaining wait at this cadence.
	Progress time.Duration
}

// Wall is the real-time Clock.
type Wall struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a wall clock.
func New(opts Options, logger zerolog.Logger) *Wall {
	return &Wall{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Now returns the current UTC time.
func (w *Wall) Now() time.Time {
	return time.Now().UTC()
}

// Sleep waits on a timer, waking early on cancellation.
func (w *Wall) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	deadline := time.Now().Add(d)
	timer := time.NewTimer(d)
	defer timer.Stop()

	var progress <-chan time.Time
	if w.opts.Progress > 0 && d > w.opts.Progress {
		ticker := time.NewTicker(w.opts.Progress)
		defer ticker.Stop()
		progress = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-progress:
			w.logger.Debug().Dur("remaining", time.Until(deadline).Round(time.Second)).Msg("waiting")
		}
	}
}

// SleepUntil blocks until the clock reaches t. Past instants return immediately.
func SleepUntil(ctx context.Context, c Clock, t time.Time) error {
	return c.Sleep(ctx, t.Sub(c.Now()))
}

var _ Clock = (*Wall)(nil)
