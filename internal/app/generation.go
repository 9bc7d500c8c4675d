package app

import (
	"context"
	"time"

	"imbalance-watch/internal/generation"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/render"
	"imbalance-watch/internal/service"
)

// Generation renders wind and solar forecast against actual output for one
// local day.
func (a *App) Generation(ctx context.Context, opts GenerationOptions) error {
	loc, err := a.location()
	if err != nil {
		return err
	}
	target := opts.Date
	if target.IsZero() {
		target = today(time.Now(), loc)
	}
	w, err := period.WindowFor(target)
	if err != nil {
		return err
	}

	renderer, err := a.newRenderer(opts.OutputDir, loc)
	if err != nil {
		return err
	}

	cmp, err := service.NewGenerationSource(a.newElexon(), loc, a.Logger).Compare(ctx, w)
	if err != nil {
		return err
	}
	if cmp.Len() == 0 {
		a.Logger.Warn().Str("target", target.Format(period.DateLayout)).Msg("no overlapping forecast and actual periods")
		return render.ErrNothingToRender
	}

	paths, err := renderer.WriteGeneration(cmp)
	if err != nil {
		return err
	}

	for _, fuel := range generation.Fuels {
		rows := cmp.Fuel(fuel)
		if len(rows) == 0 {
			continue
		}
		last := rows[len(rows)-1]
		a.Logger.Info().
			Str("fuel", string(fuel)).
			Int("periods", len(rows)).
			Int("last_period", last.Key.Period).
			Str("last_diff_mw", last.Diff.StringFixed(1)).
			Msg("generation compared")
	}
	a.Logger.Info().Strs("files", paths).Msg("generation written")
	return nil
}
