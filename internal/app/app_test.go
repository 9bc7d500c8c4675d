package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbalance-watch/internal/config"
	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
	"imbalance-watch/internal/storage"
)

func testApp(t *testing.T, baseURL string) (*App, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Elexon: config.ElexonConfig{
			BaseURL:        baseURL,
			RequestTimeout: time.Second,
			Attempts:       1,
		},
		Watch: config.WatchConfig{
			Interval:  30 * time.Minute,
			Timezone:  "UTC",
			OutputDir: dir,
		},
		Export: config.ExportConfig{Formats: []string{"csv"}},
	}
	return NewApp(cfg, zerolog.Nop()), dir
}

// elexonStub answers every imbalance request with one row for the first
// requested period of the requested date.
func elexonStub(t *testing.T, values map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		date := q.Get("settlementDate")
		value, ok := values[date]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			_, _ = w.Write([]byte(`{"data":[]}`))
			return
		}
		sp, _ := strconv.Atoi(q["settlementPeriod"][0])
		_, _ = w.Write([]byte(`{"data":[{"settlementDate":"` + date + `","settlementPeriod":` + strconv.Itoa(sp) +
			`,"startTime":"2025-12-06T23:00:00Z","publishTime":"2025-12-06T10:00:00Z","indicatedImbalance":` + value + `}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSnapshotWritesFiles(t *testing.T) {
	srv := elexonStub(t, map[string]string{"2025-12-06": "60", "2025-12-07": "100"})
	a, dir := testApp(t, srv.URL)

	err := a.Snapshot(context.Background(), SnapshotOptions{
		Date:    time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC),
		Against: time.Date(2025, 12, 6, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "imbalance_2025-12-07.csv"))
	diffPath := filepath.Join(dir, "imbalance_diff_2025-12-07_20251206T1000Z.csv")
	require.FileExists(t, diffPath)

	data, err := os.ReadFile(diffPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "1,60,100,40,Positive,Positive,increase")
}

func TestSnapshotWithoutPublicationsFails(t *testing.T) {
	srv := elexonStub(t, nil)
	a, _ := testApp(t, srv.URL)

	err := a.Snapshot(context.Background(), SnapshotOptions{Date: time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, snapshot.ErrNoData)
}

func TestSnapshotRejectsInvalidDate(t *testing.T) {
	srv := elexonStub(t, nil)
	a, _ := testApp(t, srv.URL)

	err := a.Snapshot(context.Background(), SnapshotOptions{Date: time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.ErrorIs(t, err, period.ErrInvalidDate)
}

func TestShowRequiresDatabase(t *testing.T) {
	a, _ := testApp(t, "http://unused")
	assert.Error(t, a.Show(context.Background(), ShowOptions{Limit: 5}))
}

func TestSimulateAlertRequiresAlerting(t *testing.T) {
	a, _ := testApp(t, "http://unused")
	err := a.SimulateAlert(context.Background(), SimulateOptions{Period: 5})
	assert.EqualError(t, err, "alerting is not enabled")
}

func TestSimulatedView(t *testing.T) {
	now := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)
	view, err := simulatedView(time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC), 5, decimal.NewFromInt(120), decimal.NewFromInt(95), now)
	require.NoError(t, err)

	require.Len(t, view.Records, 1)
	rec := view.Records[0]
	assert.Equal(t, 5, rec.Period)
	assert.True(t, rec.Delta.Decimal.Equal(decimal.NewFromInt(-25)))
	assert.Equal(t, delta.Decrease, rec.Direction)
	assert.Equal(t, delta.SameDate, view.Mode)

	_, err = simulatedView(now, 0, decimal.Zero, decimal.Zero, now)
	assert.Error(t, err)
}

func TestToday(t *testing.T) {
	berlin, err := period.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	now := time.Date(2025, 12, 6, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC), today(now, berlin))
	assert.Equal(t, time.Date(2025, 12, 6, 0, 0, 0, 0, time.UTC), today(now, nil))
}

func TestBackfillDays(t *testing.T) {
	from := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, backfillDays(from, from))
	assert.Equal(t, 7, backfillDays(from, from.AddDate(0, 0, 6)))
	assert.Equal(t, 0, backfillDays(from, from.AddDate(0, 0, -1)))
}

func TestWriteCheckpoints(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCheckpoints(&buf, nil, time.UTC))
	assert.Equal(t, "no checkpoints found\n", buf.String())

	buf.Reset()
	require.NoError(t, writeCheckpoints(&buf, []storage.Checkpoint{{
		TargetDate:    time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC),
		LatestPublish: time.Date(2025, 12, 6, 10, 0, 0, 0, time.UTC),
		Periods:       48,
		UpdatedAt:     time.Date(2025, 12, 6, 10, 5, 0, 0, time.UTC),
	}}, time.UTC))
	assert.Contains(t, buf.String(), "2025-12-07")
	assert.Contains(t, buf.String(), "2025-12-06T10:00:00Z")
	assert.Contains(t, buf.String(), "48")
}

func TestWriteSnapshot(t *testing.T) {
	w := period.MustWindow(time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC))
	key, _ := w.KeyFor(47)
	snap := snapshot.Reduce([]snapshot.Record{{
		Key:         key,
		StartTime:   time.Date(2025, 12, 6, 23, 0, 0, 0, time.UTC),
		PublishTime: time.Date(2025, 12, 6, 10, 0, 0, 0, time.UTC),
		Value:       decimal.NewNullDecimal(decimal.RequireFromString("-120.55")),
	}}, w)

	var buf bytes.Buffer
	require.NoError(t, writeSnapshot(&buf, snap, time.UTC))
	assert.Contains(t, buf.String(), "2025-12-06")
	assert.Contains(t, buf.String(), "23:00")
	assert.Contains(t, buf.String(), "-120.6")
}
