package app

import (
	"context"
	"fmt"
	"time"

	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/service"
	"imbalance-watch/internal/snapshot"
)

// Snapshot fetches and renders the current reconciled view of one target
// date. With Against set it also diffs that date's view against it.
func (a *App) Snapshot(ctx context.Context, opts SnapshotOptions) error {
	loc, err := a.location()
	if err != nil {
		return err
	}
	target := opts.Date
	if target.IsZero() {
		target = today(time.Now(), loc)
	}

	renderer, err := a.newRenderer(opts.OutputDir, loc)
	if err != nil {
		return err
	}
	source := service.NewImbalanceSource(a.newElexon(), loc, a.Logger)

	latest, err := a.fetchSnapshot(ctx, source, target)
	if err != nil {
		return err
	}
	paths, err := renderer.WriteSnapshot(latest)
	if err != nil {
		return err
	}
	a.Logger.Info().
		Str("target", target.Format(period.DateLayout)).
		Int("periods", latest.Len()).
		Time("latest_publish", latest.LatestPublish()).
		Strs("files", paths).
		Msg("snapshot written")

	if opts.Against.IsZero() {
		return nil
	}

	previous, err := a.fetchSnapshot(ctx, source, opts.Against)
	if err != nil {
		return err
	}
	view := delta.Diff(previous, latest)
	paths, err = renderer.WriteDiff(view, "")
	if err != nil {
		return err
	}

	inc, dec := view.Counts()
	a.Logger.Info().
		Str("mode", view.Mode.String()).
		Int("increases", inc).
		Int("decreases", dec).
		Strs("files", paths).
		Msg(view.Title("", loc))
	return nil
}

func (a *App) fetchSnapshot(ctx context.Context, source *service.ImbalanceSource, date time.Time) (snapshot.Snapshot, error) {
	w, err := period.WindowFor(date)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	snap, err := source.Snapshot(ctx, w)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	if snap.IsEmpty() {
		return snapshot.Snapshot{}, fmt.Errorf("%s: %w", w.Target().Format(period.DateLayout), snapshot.ErrNoData)
	}
	return snap, nil
}
