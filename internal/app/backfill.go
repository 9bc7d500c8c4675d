package app

import (
	"context"
	"errors"
	"time"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/render"
	"imbalance-watch/internal/service"
	"imbalance-watch/internal/snapshot"
	"imbalance-watch/internal/storage"
)

// Backfill checkpoints the current snapshot of every target date in
// [From, To], one date at a time.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from := period.Day(opts.From)
	to := period.Day(opts.To)
	if to.Before(from) {
		return errors.New("backfill range is empty; check --from/--to")
	}
	a.Logger.Info().
		Str("from", from.Format(period.DateLayout)).
		Str("to", to.Format(period.DateLayout)).
		Int("dates", backfillDays(from, to)).
		Msg("starting backfill")

	var snapshots storage.SnapshotStore
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing is written to the database")
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		if closeStore != nil {
			defer closeStore()
		}
		snapshots = store
	}

	loc, err := a.location()
	if err != nil {
		return err
	}

	var renderer *render.Writer
	if opts.Render {
		if renderer, err = a.newRenderer("", loc); err != nil {
			return err
		}
	}

	source := service.NewImbalanceSource(a.newElexon(), loc, a.Logger)

	processed := 0
	failed := 0
	for date := from; !date.After(to); date = date.AddDate(0, 0, 1) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		log := a.Logger.With().Str("target", date.Format(period.DateLayout)).Logger()
		snap, err := a.fetchSnapshot(ctx, source, date)
		if errors.Is(err, snapshot.ErrNoData) {
			log.Warn().Msg("nothing published; skipping")
			continue
		}
		if err != nil {
			failed++
			log.Error().Err(err).Msg("backfill fetch failed")
			continue
		}

		if snapshots != nil {
			if err := snapshots.SaveSnapshot(ctx, snap); err != nil {
				failed++
				log.Error().Err(err).Msg("backfill save failed")
				continue
			}
		}
		if renderer != nil {
			if _, err := renderer.WriteSnapshot(snap); err != nil {
				log.Error().Err(err).Msg("backfill render failed")
			}
		}

		processed++
		log.Info().Int("periods", snap.Len()).Time("latest_publish", snap.LatestPublish()).Msg("target date backfilled")
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill finished")
	if failed > 0 {
		return errors.New("some target dates failed to backfill; check the logs")
	}
	return nil
}

// backfillDays is the number of target dates in an inclusive range.
func backfillDays(from, to time.Time) int {
	from, to = period.Day(from), period.Day(to)
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from).Hours()/24) + 1
}
