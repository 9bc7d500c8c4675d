package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
	"imbalance-watch/internal/storage"
)

// Show prints stored checkpoints, or the records of one when Date is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show checkpoints")
	}
	if closeStore != nil {
		defer closeStore()
	}

	loc, err := a.location()
	if err != nil {
		return err
	}

	if opts.Date.IsZero() {
		checkpoints, err := store.ListSnapshots(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeCheckpoints(os.Stdout, checkpoints, loc)
	}

	w, err := period.WindowFor(opts.Date)
	if err != nil {
		return err
	}
	snap, err := store.LoadSnapshot(ctx, w)
	if errors.Is(err, storage.ErrNotFound) {
		fmt.Fprintf(os.Stdout, "no checkpoint for %s\n", w.Target().Format(period.DateLayout))
		return nil
	}
	if err != nil {
		return err
	}
	return writeSnapshot(os.Stdout, snap, loc)
}

func writeCheckpoints(out io.Writer, checkpoints []storage.Checkpoint, loc *time.Location) error {
	if len(checkpoints) == 0 {
		fmt.Fprintln(out, "no checkpoints found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Target\tLatest publish\tPeriods\tUpdated")
	for _, cp := range checkpoints {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\n",
			cp.TargetDate.Format(period.DateLayout),
			period.Localize(cp.LatestPublish, loc).Format(time.RFC3339),
			cp.Periods,
			period.Localize(cp.UpdatedAt, loc).Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func writeSnapshot(out io.Writer, snap snapshot.Snapshot, loc *time.Location) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tSP\tStart (local)\tPublished (local)\tImbalance MW")
	for _, rec := range snapshot.Localize(snap.Records(), loc) {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\n",
			rec.Key.Date.Format(period.DateLayout),
			rec.Key.Period,
			rec.StartTimeLocal.Format("15:04"),
			rec.PublishTimeLocal.Format("2006-01-02 15:04"),
			formatDecimal(rec.Value, 1),
		)
	}
	return writer.Flush()
}

func formatDecimal(v decimal.NullDecimal, places int32) string {
	if !v.Valid {
		return "-"
	}
	return v.Decimal.StringFixed(places)
}
