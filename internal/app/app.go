package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"imbalance-watch/internal/alerting"
	"imbalance-watch/internal/config"
	"imbalance-watch/internal/fetcher"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/render"
	"imbalance-watch/internal/scheduler"
	"imbalance-watch/internal/service"
	"imbalance-watch/internal/snapshot"
	"imbalance-watch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) location() (*time.Location, error) {
	return a.Config.Location()
}

func (a *App) newElexon() *fetcher.Elexon {
	cfg := a.Config.Elexon
	return fetcher.NewElexon(fetcher.Options{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.RequestTimeout,
		Attempts:          cfg.Attempts,
		RetryDelay:        cfg.RetryDelay,
		RequestsPerSecond: cfg.RequestsPerSecond,
		UserAgent:         cfg.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newRenderer(dir string, loc *time.Location) (*render.Writer, error) {
	formats, err := render.ParseFormats(a.Config.Export.Formats)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = a.Config.Watch.OutputDir
	}
	return render.NewWriter(dir, formats, render.Options{
		Width:       a.Config.Export.Width,
		Height:      a.Config.Export.Height,
		Location:    loc,
		Compression: a.Config.Export.ParquetCompression,
	}, a.Logger), nil
}

// openStore returns a nil backend when no DSN is configured.
func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Watch monitors one target date until interrupted.
func (a *App) Watch(ctx context.Context, opts WatchOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loc, err := a.location()
	if err != nil {
		return err
	}
	target := opts.Date
	if target.IsZero() {
		target = today(time.Now(), loc)
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; checkpoints disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	renderer, err := a.newRenderer("", loc)
	if err != nil {
		return err
	}

	var snapshots storage.SnapshotStore
	if store != nil {
		snapshots = store
	}

	clock := scheduler.New(scheduler.Options{Progress: a.Config.Watch.Progress}, a.Logger)
	source := service.NewImbalanceSource(a.newElexon(), loc, a.Logger)

	svc := service.New(service.Options{
		Interval:        a.Config.Watch.Interval,
		Retry:           a.Config.Watch.Retry,
		RetryIncrements: a.Config.Watch.RetryIncrements,
		AlertsOn:        a.Config.Alerting.Enabled,
		ThresholdMW:     decimal.NewFromFloat(a.Config.Alerting.ThresholdMW),
		AdvisoryLock:    a.Config.Database.AdvisoryLock,
		Location:        loc,
	}, source, clock, snapshots, renderer, a.newNotifier(), a.Logger)

	a.Logger.Info().Str("target", target.Format(period.DateLayout)).Msg("starting watch")
	err = svc.Watch(ctx, target)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, snapshot.ErrNoData):
		return fmt.Errorf("nothing published yet for %s: %w", target.Format(period.DateLayout), err)
	default:
		a.Logger.Error().Err(err).Msg("watch terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch stopped")
	return nil
}

// today is the calendar date of now in loc, expressed as UTC midnight.
func today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return period.Day(now.In(loc))
}

// WatchOptions configure the watch command.
type WatchOptions struct {
	Date time.Time
}

// SnapshotOptions configure a one-shot snapshot.
type SnapshotOptions struct {
	Date      time.Time
	Against   time.Time
	OutputDir string
}

// GenerationOptions configure the wind/solar comparison.
type GenerationOptions struct {
	Date      time.Time
	OutputDir string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Date  time.Time
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
	Render bool
}

// SimulateOptions describe a synthetic update for simulate-alert.
type SimulateOptions struct {
	Date     time.Time
	Period   int
	Previous decimal.Decimal
	Latest   decimal.Decimal
}
