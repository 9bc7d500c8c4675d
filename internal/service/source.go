package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"imbalance-watch/internal/fetcher"
	"imbalance-watch/internal/generation"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/poller"
	"imbalance-watch/internal/snapshot"
)

// ImbalanceSource fetches, localizes and reduces indicated imbalance for a window.
type ImbalanceSource struct {
	fetcher fetcher.ImbalanceFetcher
	loc     *time.Location
	logger  zerolog.Logger
}

// NewImbalanceSource constructs an ImbalanceSource.
func NewImbalanceSource(f fetcher.ImbalanceFetcher, loc *time.Location, logger zerolog.Logger) *ImbalanceSource {
	return &ImbalanceSource{
		fetcher: f,
		loc:     loc,
		logger:  logger.With().Str("component", "imbalance_source").Logger(),
	}
}

// Snapshot returns the reconciled view of w at this moment.
func (s *ImbalanceSource) Snapshot(ctx context.Context, w period.Window) (snapshot.Snapshot, error) {
	raw, err := s.fetcher.FetchImbalance(ctx, w)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("fetch imbalance: %w", err)
	}

	snap := snapshot.Reduce(snapshot.Localize(raw, s.loc), w)
	s.logger.Debug().
		Int("raw", len(raw)).
		Int("periods", snap.Len()).
		Time("latest_publish", snap.LatestPublish()).
		Msg("snapshot reduced")
	return snap, nil
}

// GenerationSource builds forecast against actual comparisons for a window.
type GenerationSource struct {
	fetcher fetcher.GenerationFetcher
	loc     *time.Location
	logger  zerolog.Logger
}

// NewGenerationSource constructs a GenerationSource.
func NewGenerationSource(f fetcher.GenerationFetcher, loc *time.Location, logger zerolog.Logger) *GenerationSource {
	return &GenerationSource{
		fetcher: f,
		loc:     loc,
		logger:  logger.With().Str("component", "generation_source").Logger(),
	}
}

// Compare fetches both anchor dates of w and aligns forecast with actual.
func (s *GenerationSource) Compare(ctx context.Context, w period.Window) (generation.Comparison, error) {
	var forecast, actual []snapshot.Record
	for _, seg := range w.Segments() {
		f, err := s.fetcher.FetchWindSolarForecast(ctx, seg.Date)
		if err != nil {
			return generation.Comparison{}, fmt.Errorf("fetch forecast %s: %w", seg.Date.Format(period.DateLayout), err)
		}
		a, err := s.fetcher.FetchWindSolarActuals(ctx, seg.Date)
		if err != nil {
			return generation.Comparison{}, fmt.Errorf("fetch actuals %s: %w", seg.Date.Format(period.DateLayout), err)
		}
		forecast = append(forecast, f...)
		actual = append(actual, a...)
	}

	cmp := generation.Align(w, snapshot.Localize(forecast, s.loc), snapshot.Localize(actual, s.loc))
	s.logger.Info().
		Int("forecast_rows", len(forecast)).
		Int("actual_rows", len(actual)).
		Int("wind", len(cmp.Fuel(generation.Wind))).
		Int("solar", len(cmp.Fuel(generation.Solar))).
		Msg("generation aligned")
	return cmp, nil
}

var _ poller.Source = (*ImbalanceSource)(nil)
