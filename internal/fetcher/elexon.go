package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
	"imbalance-watch/internal/version"
)

const (
	defaultBaseURL = "https://data.elexon.co.uk/bmrs/api/v1"

	imbalancePath       = "/forecast/indicated/day-ahead/evolution"
	windSolarForecast   = "/forecast/generation/wind-and-solar/day-ahead"
	windSolarActualPath = "/generation/actual/per-type/wind-and-solar"
)

// Options parameterise the Elexon BMRS client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	Attempts          int
	RetryDelay        time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// Elexon fetches settlement-period data from the BMRS API. Every request is
// paced by a rate limiter and retried up to Attempts times.
type Elexon struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewElexon constructs a BMRS client.
func NewElexon(opts Options, logger zerolog.Logger) *Elexon {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Elexon{
		opts:    opts,
		logger:  logger.With().Str("component", "elexon_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// FetchImbalance retrieves every indicated imbalance publication for the
// window's keys, one request per calendar date.
func (e *Elexon) FetchImbalance(ctx context.Context, w period.Window) ([]snapshot.Record, error) {
	var records []snapshot.Record
	for _, seg := range w.Segments() {
		params := url.Values{}
		params.Set("settlementDate", seg.Date.Format(period.DateLayout))
		for _, p := range seg.Periods {
			params.Add("settlementPeriod", strconv.Itoa(p))
		}
		params.Set("format", "json")

		var payload struct {
			Data []imbalanceRow `json:"data"`
		}
		if err := e.getJSON(ctx, imbalancePath, params, &payload); err != nil {
			return nil, err
		}

		for _, row := range payload.Data {
			rec, err := row.record()
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		e.logger.Debug().
			Str("settlement_date", seg.Date.Format(period.DateLayout)).
			Int("rows", len(payload.Data)).
			Msg("imbalance segment fetched")
	}
	return records, nil
}

// FetchWindSolarForecast retrieves the day-ahead wind and solar forecast for date.
func (e *Elexon) FetchWindSolarForecast(ctx context.Context, date time.Time) ([]snapshot.Record, error) {
	day := period.Day(date)
	params := url.Values{}
	params.Set("from", day.Format("2006-01-02T15:04Z"))
	params.Set("to", day.Add(23*time.Hour+30*time.Minute).Format("2006-01-02T15:04Z"))
	params.Set("processType", "Day ahead")
	params.Set("format", "json")

	return e.fetchGeneration(ctx, windSolarForecast, params)
}

// FetchWindSolarActuals retrieves actual wind and solar generation for date.
func (e *Elexon) FetchWindSolarActuals(ctx context.Context, date time.Time) ([]snapshot.Record, error) {
	day := period.Day(date)
	params := url.Values{}
	params.Set("from", day.Format("2006-01-02T15:04Z"))
	params.Set("to", day.AddDate(0, 0, 1).Format("2006-01-02T15:04Z"))
	params.Set("settlementPeriodFrom", "1")
	params.Set("settlementPeriodTo", strconv.Itoa(period.PerDay))
	params.Set("format", "json")

	return e.fetchGeneration(ctx, windSolarActualPath, params)
}

func (e *Elexon) fetchGeneration(ctx context.Context, path string, params url.Values) ([]snapshot.Record, error) {
	var payload struct {
		Data []generationRow `json:"data"`
	}
	if err := e.getJSON(ctx, path, params, &payload); err != nil {
		return nil, err
	}

	records := make([]snapshot.Record, 0, len(payload.Data))
	for _, row := range payload.Data {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (e *Elexon) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := e.baseURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 1; attempt <= e.opts.Attempts; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		lastErr = e.do(ctx, endpoint, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var httpErr *HTTPError
		if errors.As(lastErr, &httpErr) && !httpErr.Retryable() {
			return lastErr
		}

		e.logger.Warn().Err(lastErr).Int("attempt", attempt).Str("path", path).Msg("elexon request failed")
		if attempt < e.opts.Attempts {
			if err := e.wait(ctx); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("elexon %s failed after %d attempts: %w", path, e.opts.Attempts, lastErr)
}

func (e *Elexon) do(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(e.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", version.UserAgent())
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		return parseHTTPError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode elexon response: %w", err)
	}
	return nil
}

func (e *Elexon) wait(ctx context.Context) error {
	if e.opts.RetryDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(e.opts.RetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type imbalanceRow struct {
	SettlementDate     string              `json:"settlementDate"`
	SettlementPeriod   int                 `json:"settlementPeriod"`
	StartTime          time.Time           `json:"startTime"`
	PublishTime        time.Time           `json:"publishTime"`
	IndicatedImbalance decimal.NullDecimal `json:"indicatedImbalance"`
}

func (r imbalanceRow) record() (snapshot.Record, error) {
	date, err := time.Parse(period.DateLayout, r.SettlementDate)
	if err != nil {
		return snapshot.Record{}, fmt.Errorf("parse settlementDate %q: %w", r.SettlementDate, err)
	}
	return snapshot.Record{
		Key:         period.NewKey(date, r.SettlementPeriod),
		StartTime:   r.StartTime.UTC(),
		PublishTime: r.PublishTime.UTC(),
		Value:       r.IndicatedImbalance,
	}, nil
}

type generationRow struct {
	SettlementDate   string              `json:"settlementDate"`
	SettlementPeriod int                 `json:"settlementPeriod"`
	StartTime        time.Time           `json:"startTime"`
	PublishTime      time.Time           `json:"publishTime"`
	PsrType          string              `json:"psrType"`
	Quantity         decimal.NullDecimal `json:"quantity"`
}

func (r generationRow) record() (snapshot.Record, error) {
	date, err := time.Parse(period.DateLayout, r.SettlementDate)
	if err != nil {
		return snapshot.Record{}, fmt.Errorf("parse settlementDate %q: %w", r.SettlementDate, err)
	}
	return snapshot.Record{
		Key:         period.NewKey(date, r.SettlementPeriod),
		StartTime:   r.StartTime.UTC(),
		PublishTime: r.PublishTime.UTC(),
		Value:       r.Quantity,
		Series:      r.PsrType,
	}, nil
}

// HTTPError is a non-200 response from the BMRS API.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("elexon api error (%d)", e.Status)
	}
	return fmt.Sprintf("elexon api error (%d): %s", e.Status, e.Message)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type errorResponse struct {
	Title   string `json:"title"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Detail != "":
			return &HTTPError{Status: status, Message: apiErr.Detail}
		case apiErr.Message != "":
			return &HTTPError{Status: status, Message: apiErr.Message}
		case apiErr.Title != "":
			return &HTTPError{Status: status, Message: apiErr.Title}
		}
	}
	return &HTTPError{Status: status, Message: strings.TrimSpace(string(payload))}
}

var (
	_ ImbalanceFetcher  = (*Elexon)(nil)
	_ GenerationFetcher = (*Elexon)(nil)
)
