package fetcher

import (
	"context"
	"time"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

// ImbalanceFetcher retrieves indicated imbalance publications for a local-day window.
type ImbalanceFetcher interface {
	FetchImbalance(ctx context.Context, w period.Window) ([]snapshot.Record, error)
}

// GenerationFetcher retrieves wind and solar generation for one settlement date.
type GenerationFetcher interface {
	FetchWindSolarForecast(ctx context.Context, date time.Time) ([]snapshot.Record, error)
	FetchWindSolarActuals(ctx context.Context, date time.Time) ([]snapshot.Record, error)
}
