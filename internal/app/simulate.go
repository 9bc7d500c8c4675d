package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"imbalance-watch/internal/alerting"
	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

// SimulateAlert pushes a synthetic update of one settlement period through
// the configured alert channel.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	loc, err := a.location()
	if err != nil {
		return err
	}
	target := opts.Date
	if target.IsZero() {
		target = today(time.Now(), loc)
	}

	view, err := simulatedView(target, opts.Period, opts.Previous, opts.Latest, time.Now().UTC())
	if err != nil {
		return err
	}

	threshold := decimal.NewFromFloat(a.Config.Alerting.ThresholdMW)
	note, ok := alerting.Evaluate(view, threshold, loc)
	if !ok {
		return fmt.Errorf("simulated move does not exceed the %s MW threshold", threshold.String())
	}
	note.AdditionalMsg = "simulated alert"
	return notifier.Notify(ctx, note)
}

// simulatedView diffs two single-period snapshots published half an hour apart.
func simulatedView(target time.Time, sp int, previous, latest decimal.Decimal, now time.Time) (delta.View, error) {
	w, err := period.WindowFor(target)
	if err != nil {
		return delta.View{}, err
	}
	key, ok := w.KeyFor(sp)
	if !ok {
		return delta.View{}, fmt.Errorf("settlement period %d is outside 1..%d", sp, period.PerDay)
	}

	build := func(value decimal.Decimal, published time.Time) snapshot.Snapshot {
		return snapshot.Reduce([]snapshot.Record{{
			Key:         key,
			PublishTime: published,
			Value:       decimal.NewNullDecimal(value),
		}}, w)
	}
	return delta.Diff(build(previous, now.Add(-30*time.Minute)), build(latest, now)), nil
}
