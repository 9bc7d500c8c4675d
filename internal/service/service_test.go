package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbalance-watch/internal/alerting"
	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/generation"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/poller"
	"imbalance-watch/internal/snapshot"
	"imbalance-watch/internal/storage"
)

var (
	target = time.Date(2025, time.December, 7, 0, 0, 0, 0, time.UTC)
	t0     = time.Date(2025, time.December, 6, 12, 0, 0, 0, time.UTC)
	window = period.MustWindow(target)
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

func published(at time.Time, value int64) snapshot.Snapshot {
	key, _ := window.KeyFor(5)
	return snapshot.Reduce([]snapshot.Record{{
		Key:         key,
		PublishTime: at,
		Value:       decimal.NewNullDecimal(decimal.NewFromInt(value)),
	}}, window)
}

type memStore struct {
	saved    []snapshot.Snapshot
	existing *snapshot.Snapshot
	locked   bool
	unlocked bool
}

func (m *memStore) SaveSnapshot(_ context.Context, s snapshot.Snapshot) error {
	m.saved = append(m.saved, s)
	return nil
}

func (m *memStore) LoadSnapshot(context.Context, period.Window) (snapshot.Snapshot, error) {
	if m.existing == nil {
		return snapshot.Snapshot{}, storage.ErrNotFound
	}
	return *m.existing, nil
}

func (m *memStore) ListSnapshots(context.Context, int) ([]storage.Checkpoint, error) {
	return nil, nil
}

func (m *memStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if m.locked {
		return nil, false, nil
	}
	return func() { m.unlocked = true }, true, nil
}

type recorder struct {
	snapshots []snapshot.Snapshot
	views     []delta.View
	labels    []string
	onDiff    func()
}

func (r *recorder) WriteSnapshot(s snapshot.Snapshot) ([]string, error) {
	r.snapshots = append(r.snapshots, s)
	return nil, nil
}

func (r *recorder) WriteDiff(v delta.View, label string) ([]string, error) {
	r.views = append(r.views, v)
	r.labels = append(r.labels, label)
	if r.onDiff != nil {
		r.onDiff()
	}
	return nil, nil
}

type notes struct {
	sent []alerting.Notification
}

func (n *notes) Notify(_ context.Context, note alerting.Notification) error {
	n.sent = append(n.sent, note)
	return nil
}

func options() Options {
	return Options{
		Interval:        30 * time.Minute,
		Retry:           true,
		RetryIncrements: []time.Duration{30 * time.Second},
		AlertsOn:        true,
		ThresholdMW:     decimal.NewFromInt(10),
		AdvisoryLock:    true,
	}
}

func TestWatchHandlesUpdate(t *testing.T) {
	clock := &manualClock{now: t0.Add(time.Minute)}
	source := poller.SourceFunc(func(context.Context, period.Window) (snapshot.Snapshot, error) {
		if clock.now.Before(t0.Add(30 * time.Minute)) {
			return published(t0, 120), nil
		}
		return published(t0.Add(30*time.Minute), 95), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &memStore{}
	rec := &recorder{onDiff: cancel}
	n := &notes{}
	svc := New(options(), source, clock, store, rec, n, zerolog.Nop())

	err := svc.Watch(ctx, target)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, rec.views, 1)
	view := rec.views[0]
	require.Len(t, view.Records, 1)
	assert.True(t, view.Records[0].Delta.Decimal.Equal(decimal.NewFromInt(-25)))

	require.Len(t, n.sent, 1)
	assert.Equal(t, 5, n.sent[0].Largest.Period)
	assert.Equal(t, []string{"Update 1"}, rec.labels)
	assert.Contains(t, n.sent[0].Title, "(Update 1)")

	require.Len(t, rec.snapshots, 2, "initial and updated snapshot are rendered")
	require.Len(t, store.saved, 2, "initial and updated snapshot are checkpointed")
	assert.True(t, store.saved[1].LatestPublish().Equal(t0.Add(30*time.Minute)))
	assert.True(t, store.unlocked)
}

func TestWatchCatchesUpFromCheckpoint(t *testing.T) {
	clock := &manualClock{now: t0.Add(time.Minute)}
	source := poller.SourceFunc(func(context.Context, period.Window) (snapshot.Snapshot, error) {
		return published(t0, 80), nil
	})

	older := published(t0.Add(-time.Hour), 100)
	store := &memStore{existing: &older}
	rec := &recorder{}
	n := &notes{}

	ctx, cancel := context.WithCancel(context.Background())
	rec.onDiff = cancel
	defer cancel()

	svc := New(options(), source, clock, store, rec, n, zerolog.Nop())
	err := svc.Watch(ctx, target)
	require.ErrorIs(t, err, context.Canceled)

	require.Len(t, rec.views, 1)
	assert.True(t, rec.views[0].Records[0].Delta.Decimal.Equal(decimal.NewFromInt(-20)))
	assert.Equal(t, []string{"Catch-up"}, rec.labels)
	require.Len(t, n.sent, 1)
	require.Len(t, store.saved, 1)
}

func TestWatchKeepsNewerCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	clock := &manualClock{now: t0.Add(time.Minute)}
	source := poller.SourceFunc(func(context.Context, period.Window) (snapshot.Snapshot, error) {
		calls++
		if calls > 1 {
			cancel()
		}
		return published(t0, 80), nil
	})

	newer := published(t0.Add(time.Hour), 100)
	store := &memStore{existing: &newer}
	rec := &recorder{}
	n := &notes{}

	svc := New(options(), source, clock, store, rec, n, zerolog.Nop())
	err := svc.Watch(ctx, target)
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, rec.views, "no diff against a newer checkpoint")
	assert.Empty(t, n.sent)
	assert.Empty(t, store.saved, "the newer checkpoint is not overwritten")
}

func TestUpdateLabel(t *testing.T) {
	assert.Equal(t, "Update 3", updateLabel(poller.Outcome{Cycle: 3}))
	assert.Equal(t, "Update 2 (Retry)", updateLabel(poller.Outcome{Cycle: 2, Attempt: 1}))
}

func TestWatchBelowThresholdDoesNotAlert(t *testing.T) {
	clock := &manualClock{now: t0.Add(time.Minute)}
	source := poller.SourceFunc(func(context.Context, period.Window) (snapshot.Snapshot, error) {
		if clock.now.Before(t0.Add(30 * time.Minute)) {
			return published(t0, 100), nil
		}
		return published(t0.Add(30*time.Minute), 105), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{onDiff: cancel}
	n := &notes{}

	svc := New(options(), source, clock, nil, rec, n, zerolog.Nop())
	require.ErrorIs(t, svc.Watch(ctx, target), context.Canceled)
	assert.Len(t, rec.views, 1)
	assert.Empty(t, n.sent)
}

func TestWatchRefusesWhenLocked(t *testing.T) {
	source := poller.SourceFunc(func(context.Context, period.Window) (snapshot.Snapshot, error) {
		t.Fatal("no fetch expected while locked")
		return snapshot.Snapshot{}, nil
	})
	svc := New(options(), source, &manualClock{now: t0}, &memStore{locked: true}, nil, nil, zerolog.Nop())

	err := svc.Watch(context.Background(), target)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestWatchEmptyInitialSnapshot(t *testing.T) {
	source := poller.SourceFunc(func(context.Context, period.Window) (snapshot.Snapshot, error) {
		return snapshot.Reduce(nil, window), nil
	})
	svc := New(options(), source, &manualClock{now: t0}, nil, nil, nil, zerolog.Nop())

	err := svc.Watch(context.Background(), target)
	assert.ErrorIs(t, err, snapshot.ErrNoData)
}

func TestWatchInvalidDate(t *testing.T) {
	svc := New(options(), poller.SourceFunc(nil), &manualClock{}, nil, nil, nil, zerolog.Nop())
	err := svc.Watch(context.Background(), time.Time{})
	assert.True(t, errors.Is(err, period.ErrInvalidDate))
}

type fakeImbalance struct {
	records []snapshot.Record
	err     error
}

func (f fakeImbalance) FetchImbalance(context.Context, period.Window) ([]snapshot.Record, error) {
	return f.records, f.err
}

func TestImbalanceSourceLocalizesAndReduces(t *testing.T) {
	berlin, err := period.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	key, _ := window.KeyFor(47)
	raw := []snapshot.Record{
		{Key: key, StartTime: time.Date(2025, 12, 6, 23, 0, 0, 0, time.UTC), PublishTime: t0, Value: decimal.NewNullDecimal(decimal.NewFromInt(1))},
		{Key: key, StartTime: time.Date(2025, 12, 6, 23, 0, 0, 0, time.UTC), PublishTime: t0.Add(time.Hour), Value: decimal.NullDecimal{}},
	}

	src := NewImbalanceSource(fakeImbalance{records: raw}, berlin, zerolog.Nop())
	snap, err := src.Snapshot(context.Background(), window)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())

	rec, ok := snap.ByPeriod(47)
	require.True(t, ok)
	assert.Equal(t, 0, rec.StartTimeLocal.Hour(), "23:00 UTC is midnight in Berlin")
	assert.True(t, snap.LatestPublish().Equal(t0))

	_, err = NewImbalanceSource(fakeImbalance{err: errors.New("boom")}, berlin, zerolog.Nop()).Snapshot(context.Background(), window)
	assert.Error(t, err)
}

type fakeGeneration struct {
	calls []time.Time
}

func (f *fakeGeneration) FetchWindSolarForecast(_ context.Context, date time.Time) ([]snapshot.Record, error) {
	f.calls = append(f.calls, date)
	return []snapshot.Record{{
		Key:         period.NewKey(date, 47),
		PublishTime: t0,
		Value:       decimal.NewNullDecimal(decimal.NewFromInt(100)),
		Series:      "Wind Onshore",
	}}, nil
}

func (f *fakeGeneration) FetchWindSolarActuals(_ context.Context, date time.Time) ([]snapshot.Record, error) {
	return []snapshot.Record{{
		Key:         period.NewKey(date, 47),
		PublishTime: t0,
		Value:       decimal.NewNullDecimal(decimal.NewFromInt(90)),
		Series:      "Wind Onshore",
	}}, nil
}

func TestGenerationSourceFetchesBothAnchorDates(t *testing.T) {
	f := &fakeGeneration{}
	cmp, err := NewGenerationSource(f, time.UTC, zerolog.Nop()).Compare(context.Background(), window)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{window.Prior(), target}, f.calls)

	rows := cmp.Fuel(generation.Wind)
	require.Len(t, rows, 1, "period 47 of the target date lies outside the window")
	assert.Equal(t, window.Prior(), rows[0].Key.Date)
	assert.True(t, rows[0].Diff.Equal(decimal.NewFromInt(-10)))
}
