package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/scheduler"
	"imbalance-watch/internal/snapshot"
)

var (
	// ErrNotStarted is returned by Cycle before Start succeeded.
	ErrNotStarted = errors.New("poller: not started")
	// ErrStopped is returned once the poller has been cancelled.
	ErrStopped = errors.New("poller: stopped")
)

// Source obtains a freshly reduced snapshot for a window.
type Source interface {
	Snapshot(ctx context.Context, w period.Window) (snapshot.Snapshot, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, w period.Window) (snapshot.Snapshot, error)

// Snapshot calls f.
func (f SourceFunc) Snapshot(ctx context.Context, w period.Window) (snapshot.Snapshot, error) {
	return f(ctx, w)
}

// Handler receives the outcome of every completed poll cycle.
type Handler func(ctx context.Context, outcome Outcome)

// Options configure the polling cadence.
type Options struct {
	Interval        time.Duration
	Retry           bool
	RetryIncrements []time.Duration
	OnCycle         Handler
}

// Outcome reports one poll cycle. State is either Updated or Stale.
type Outcome struct {
	Cycle     int
	State     State
	Attempt   int
	Previous  snapshot.Snapshot
	Snapshot  snapshot.Snapshot
	View      delta.View
	NextCheck time.Time
	Err       error
}

// Updated reports whether the cycle found a newer publication.
func (o Outcome) Updated() bool { return o.State == Updated }

type pollState struct {
	current      snapshot.Snapshot
	lastSeen     time.Time
	expectedNext time.Time
	retryIndex   int
	cycle        int
}

// Poller waits for expected publications and reports whether they arrived.
// It is not safe for concurrent use.
type Poller struct {
	opts   Options
	source Source
	window period.Window
	clock  scheduler.Clock
	logger zerolog.Logger

	state State
	poll  pollState
}

// New constructs a Poller for window w.
func New(opts Options, source Source, w period.Window, clock scheduler.Clock, logger zerolog.Logger) (*Poller, error) {
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("poller: interval must be positive, got %s", opts.Interval)
	}
	for i, inc := range opts.RetryIncrements {
		if inc <= 0 {
			return nil, fmt.Errorf("poller: retry increment %d must be positive, got %s", i, inc)
		}
	}
	if source == nil {
		return nil, errors.New("poller: source is required")
	}
	if clock == nil {
		return nil, errors.New("poller: clock is required")
	}
	if w.IsZero() {
		return nil, errors.New("poller: window is required")
	}

	increments := make([]time.Duration, len(opts.RetryIncrements))
	copy(increments, opts.RetryIncrements)
	opts.RetryIncrements = increments

	return &Poller{
		opts:   opts,
		source: source,
		window: w,
		clock:  clock,
		logger: logger.With().Str("component", "poller").Str("target", w.Target().Format(period.DateLayout)).Logger(),
		state:  Idle,
	}, nil
}

// State returns the current state.
func (p *Poller) State() State { return p.state }

// Current returns the most recent successfully obtained snapshot.
func (p *Poller) Current() snapshot.Snapshot { return p.poll.current }

// LastSeen is the newest publish time observed so far.
func (p *Poller) LastSeen() time.Time { return p.poll.lastSeen }

// ExpectedNext is when the next publication is due.
func (p *Poller) ExpectedNext() time.Time { return p.poll.expectedNext }

// Start fetches the initial snapshot and moves to Waiting.
func (p *Poller) Start(ctx context.Context) (snapshot.Snapshot, error) {
	if p.state != Idle {
		return snapshot.Snapshot{}, fmt.Errorf("poller: start from state %s", p.state)
	}

	initial, err := p.source.Snapshot(ctx, p.window)
	if err != nil {
		if ctx.Err() != nil {
			p.state = Stopped
			return snapshot.Snapshot{}, ctx.Err()
		}
		return snapshot.Snapshot{}, fmt.Errorf("initial snapshot: %w", err)
	}
	if initial.IsEmpty() {
		return snapshot.Snapshot{}, snapshot.ErrNoData
	}

	p.poll = pollState{
		current:  initial,
		lastSeen: initial.LatestPublish(),
	}
	p.poll.expectedNext = p.nextExpected(time.Time{})
	p.state = Waiting

	p.logger.Info().
		Time("latest_publish", p.poll.lastSeen).
		Time("expected_next", p.poll.expectedNext).
		Int("periods", initial.Len()).
		Msg("initial snapshot obtained")
	return initial, nil
}

// Run starts the poller if needed and loops over cycles until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if p.state == Idle {
		if _, err := p.Start(ctx); err != nil {
			return err
		}
	}

	for {
		outcome, err := p.Cycle(ctx)
		if err != nil {
			return err
		}
		if p.opts.OnCycle != nil {
			p.opts.OnCycle(ctx, outcome)
		}
	}
}

// Cycle waits for the expected publication, checks for it, runs the retry
// sequence when enabled and returns to Waiting.
func (p *Poller) Cycle(ctx context.Context) (Outcome, error) {
	switch p.state {
	case Waiting:
	case Stopped:
		return Outcome{}, ErrStopped
	default:
		return Outcome{}, ErrNotStarted
	}

	p.poll.cycle++
	p.poll.retryIndex = 0
	log := p.logger.With().Int("cycle", p.poll.cycle).Logger()

	wait := p.poll.expectedNext.Sub(p.clock.Now())
	if wait > 0 {
		log.Info().Time("expected_next", p.poll.expectedNext).Dur("wait", wait.Round(time.Second)).Msg("waiting for next publication")
	} else {
		log.Info().Time("expected_next", p.poll.expectedNext).Dur("overdue", (-wait).Round(time.Second)).Msg("expected publication overdue; checking now")
	}
	if err := scheduler.SleepUntil(ctx, p.clock, p.poll.expectedNext); err != nil {
		return p.stop(err)
	}

	p.state = Checking
	fresh, found, fetchErr := p.check(ctx, log)
	if ctx.Err() != nil {
		return p.stop(ctx.Err())
	}
	if found {
		return p.update(fresh), nil
	}

	if !p.opts.Retry || len(p.opts.RetryIncrements) == 0 {
		return p.stale(fetchErr), nil
	}

	p.state = Retrying
	for i, inc := range p.opts.RetryIncrements {
		p.poll.retryIndex = i + 1
		log.Info().Int("attempt", p.poll.retryIndex).Dur("in", inc).Msg("no update yet; retrying")
		if err := p.clock.Sleep(ctx, inc); err != nil {
			return p.stop(err)
		}

		fresh, found, err := p.check(ctx, log)
		if ctx.Err() != nil {
			return p.stop(ctx.Err())
		}
		if err != nil {
			fetchErr = err
		}
		if found {
			return p.update(fresh), nil
		}
	}

	log.Info().Int("retries", len(p.opts.RetryIncrements)).Msg("no update after all retries")
	return p.stale(fetchErr), nil
}

func (p *Poller) check(ctx context.Context, log zerolog.Logger) (snapshot.Snapshot, bool, error) {
	fresh, err := p.source.Snapshot(ctx, p.window)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Int("attempt", p.poll.retryIndex).Msg("snapshot fetch failed")
		}
		return snapshot.Snapshot{}, false, err
	}

	found := fresh.LatestPublish().After(p.poll.lastSeen)
	log.Debug().
		Time("last_seen", p.poll.lastSeen).
		Time("latest_publish", fresh.LatestPublish()).
		Bool("updated", found).
		Msg("checked for new publication")
	return fresh, found, nil
}

func (p *Poller) update(fresh snapshot.Snapshot) Outcome {
	p.state = Updated
	previous := p.poll.current
	view := delta.Diff(previous, fresh)

	p.poll.current = fresh
	p.poll.lastSeen = fresh.LatestPublish()
	p.poll.expectedNext = p.nextExpected(time.Time{})

	outcome := Outcome{
		Cycle:     p.poll.cycle,
		State:     Updated,
		Attempt:   p.poll.retryIndex,
		Previous:  previous,
		Snapshot:  fresh,
		View:      view,
		NextCheck: p.poll.expectedNext,
	}

	p.logger.Info().
		Int("cycle", p.poll.cycle).
		Int("attempt", p.poll.retryIndex).
		Time("latest_publish", p.poll.lastSeen).
		Int("changed", len(view.Changed())).
		Time("expected_next", p.poll.expectedNext).
		Msg("new publication found")

	p.state = Waiting
	return outcome
}

func (p *Poller) stale(fetchErr error) Outcome {
	p.state = Stale
	p.poll.expectedNext = p.nextExpected(p.poll.expectedNext)

	outcome := Outcome{
		Cycle:     p.poll.cycle,
		State:     Stale,
		Attempt:   p.poll.retryIndex,
		Previous:  p.poll.current,
		Snapshot:  p.poll.current,
		NextCheck: p.poll.expectedNext,
		Err:       fetchErr,
	}

	p.logger.Info().
		Int("cycle", p.poll.cycle).
		Time("expected_next", p.poll.expectedNext).
		AnErr("fetch_error", fetchErr).
		Msg("no update this cycle")

	p.state = Waiting
	return outcome
}

func (p *Poller) stop(err error) (Outcome, error) {
	p.state = Stopped
	p.logger.Info().Err(err).Msg("poller stopped")
	return Outcome{}, err
}

// nextExpected returns the first slot on the lastSeen + n*interval grid that
// is strictly after the given instant.
func (p *Poller) nextExpected(after time.Time) time.Time {
	next := p.poll.lastSeen.Add(p.opts.Interval)
	if !next.After(after) {
		steps := after.Sub(next)/p.opts.Interval + 1
		next = next.Add(steps * p.opts.Interval)
	}
	return next
}
