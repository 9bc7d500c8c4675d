package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"imbalance-watch/internal/alerting"
	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/poller"
	"imbalance-watch/internal/scheduler"
	"imbalance-watch/internal/snapshot"
	"imbalance-watch/internal/storage"
)

// ErrLocked is returned when another process already watches the target date.
var ErrLocked = errors.New("service: target date is watched by another process")

// Renderer writes snapshot and delta renderings.
type Renderer interface {
	WriteSnapshot(s snapshot.Snapshot) ([]string, error)
	WriteDiff(v delta.View, label string) ([]string, error)
}

// Options configure a watch session.
type Options struct {
	Interval        time.Duration
	Retry           bool
	RetryIncrements []time.Duration
	AlertsOn        bool
	ThresholdMW     decimal.Decimal
	AdvisoryLock    bool
	Location        *time.Location
}

// Service orchestrates polling, rendering, checkpointing and alerting.
type Service struct {
	opts     Options
	source   poller.Source
	clock    scheduler.Clock
	store    storage.SnapshotStore
	locker   storage.AdvisoryLocker
	renderer Renderer
	notifier alerting.Notifier
	logger   zerolog.Logger
}

// New constructs the watch service. store, renderer and notifier may be nil.
func New(opts Options, source poller.Source, clock scheduler.Clock, store storage.SnapshotStore, renderer Renderer, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok && opts.AdvisoryLock {
		locker = l
	}

	return &Service{
		opts:     opts,
		source:   source,
		clock:    clock,
		store:    store,
		locker:   locker,
		renderer: renderer,
		notifier: notifier,
		logger:   logger.With().Str("component", "service").Logger(),
	}
}

// Watch monitors target until ctx is cancelled. It returns ctx.Err() on a
// clean shutdown.
func (s *Service) Watch(ctx context.Context, target time.Time) error {
	w, err := period.WindowFor(target)
	if err != nil {
		return err
	}

	log := s.logger.With().
		Str("session", uuid.NewString()).
		Str("target", w.Target().Format(period.DateLayout)).
		Logger()

	unlock, proceed, err := s.acquireLock(ctx, w.Target())
	if err != nil {
		return err
	}
	if !proceed {
		return ErrLocked
	}
	if unlock != nil {
		defer unlock()
	}

	p, err := poller.New(poller.Options{
		Interval:        s.opts.Interval,
		Retry:           s.opts.Retry,
		RetryIncrements: s.opts.RetryIncrements,
		OnCycle: func(ctx context.Context, outcome poller.Outcome) {
			s.handleOutcome(ctx, log, outcome)
		},
	}, s.source, w, s.clock, log)
	if err != nil {
		return err
	}

	initial, err := p.Start(ctx)
	if err != nil {
		return err
	}
	s.render(log, initial)
	s.catchUp(ctx, log, w, initial)

	log.Info().Time("expected_next", p.ExpectedNext()).Msg("watching for updates")
	return p.Run(ctx)
}

// catchUp diffs the initial snapshot against the checkpoint a previous
// session left behind.
func (s *Service) catchUp(ctx context.Context, log zerolog.Logger, w period.Window, initial snapshot.Snapshot) {
	if s.store == nil {
		return
	}

	previous, err := s.store.LoadSnapshot(ctx, w)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		log.Error().Err(err).Msg("failed to load checkpoint")
	case previous.LatestPublish().After(initial.LatestPublish()):
		// an older fetch never replaces a newer checkpoint
		log.Warn().
			Time("checkpoint_publish", previous.LatestPublish()).
			Time("latest_publish", initial.LatestPublish()).
			Msg("checkpoint is newer than the fetched snapshot; keeping it")
		return
	case initial.LatestPublish().After(previous.LatestPublish()):
		log.Info().
			Time("checkpoint_publish", previous.LatestPublish()).
			Time("latest_publish", initial.LatestPublish()).
			Msg("publications missed since last session")
		s.publish(ctx, log, delta.Diff(previous, initial), "Catch-up")
	}

	s.checkpoint(ctx, log, initial)
}

func (s *Service) handleOutcome(ctx context.Context, log zerolog.Logger, outcome poller.Outcome) {
	if !outcome.Updated() {
		if outcome.Err != nil {
			log.Warn().Err(outcome.Err).Int("cycle", outcome.Cycle).Time("next_check", outcome.NextCheck).Msg("cycle ended without data")
		}
		return
	}

	s.render(log, outcome.Snapshot)
	s.publish(ctx, log, outcome.View, updateLabel(outcome))
	s.checkpoint(ctx, log, outcome.Snapshot)
}

func (s *Service) render(log zerolog.Logger, snap snapshot.Snapshot) {
	if s.renderer == nil {
		return
	}
	if _, err := s.renderer.WriteSnapshot(snap); err != nil {
		log.Error().Err(err).Msg("failed to render snapshot")
	}
}

// updateLabel names the cycle that found an update, marking retries.
func updateLabel(outcome poller.Outcome) string {
	if outcome.Attempt > 0 {
		return fmt.Sprintf("Update %d (Retry)", outcome.Cycle)
	}
	return fmt.Sprintf("Update %d", outcome.Cycle)
}

func (s *Service) publish(ctx context.Context, log zerolog.Logger, view delta.View, label string) {
	inc, dec := view.Counts()
	log.Info().
		Str("mode", view.Mode.String()).
		Int("changed", len(view.Changed())).
		Int("increases", inc).
		Int("decreases", dec).
		Msg(view.Title(label, s.opts.Location))

	if s.renderer != nil {
		if _, err := s.renderer.WriteDiff(view, label); err != nil {
			log.Error().Err(err).Msg("failed to render delta view")
		}
	}

	if !s.opts.AlertsOn || s.notifier == nil {
		return
	}
	note, ok := alerting.Evaluate(view, s.opts.ThresholdMW, s.opts.Location)
	if !ok {
		return
	}
	note.Title = view.Title(label, s.opts.Location)
	if err := s.notifier.Notify(ctx, note); err != nil {
		log.Error().Err(err).Msg("failed to dispatch alert")
	}
}

func (s *Service) checkpoint(ctx context.Context, log zerolog.Logger, snap snapshot.Snapshot) {
	if s.store == nil {
		return
	}
	// a shutdown mid-update must still leave the checkpoint behind
	if err := s.store.SaveSnapshot(context.WithoutCancel(ctx), snap); err != nil {
		log.Error().Err(err).Msg("failed to save checkpoint")
	}
}

func (s *Service) acquireLock(ctx context.Context, target time.Time) (func(), bool, error) {
	if s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, storage.LockKey(target))
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
