package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbalance-watch/internal/config"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

var (
	target = time.Date(2025, time.December, 7, 0, 0, 0, 0, time.UTC)
	t1     = time.Date(2025, time.December, 6, 9, 0, 0, 0, time.UTC)
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	backend, err := Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "watch.db"),
	})
	require.NoError(t, err)
	t.Cleanup(backend.Close)

	store, ok := backend.(*SQLiteStore)
	require.True(t, ok)
	return store
}

func buildSnapshot(date, published time.Time, values map[int]string) snapshot.Snapshot {
	w := period.MustWindow(date)
	var records []snapshot.Record
	for p, v := range values {
		key, _ := w.KeyFor(p)
		records = append(records, snapshot.Record{
			Key:         key,
			StartTime:   key.Date.Add(time.Duration(p-1) * 30 * time.Minute),
			PublishTime: published,
			Value:       decimal.NewNullDecimal(decimal.RequireFromString(v)),
		})
	}
	return snapshot.Reduce(records, w)
}

func TestSQLiteSaveAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	saved := buildSnapshot(target, t1, map[int]string{47: "-120.5", 48: "0", 1: "95", 46: "12.25"})
	require.NoError(t, store.SaveSnapshot(ctx, saved))

	loaded, err := store.LoadSnapshot(ctx, period.MustWindow(target))
	require.NoError(t, err)

	require.Equal(t, saved.Len(), loaded.Len())
	assert.True(t, saved.LatestPublish().Equal(loaded.LatestPublish()))

	want := saved.Records()
	got := loaded.Records()
	for i := range want {
		assert.Equal(t, want[i].Key, got[i].Key)
		assert.True(t, want[i].Value.Decimal.Equal(got[i].Value.Decimal), "period %d", want[i].Key.Period)
		assert.True(t, want[i].StartTime.Equal(got[i].StartTime))
	}
}

func TestSQLiteSaveReplacesPreviousCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.SaveSnapshot(ctx, buildSnapshot(target, t1, map[int]string{1: "10", 2: "20"})))
	require.NoError(t, store.SaveSnapshot(ctx, buildSnapshot(target, t1.Add(time.Hour), map[int]string{1: "15"})))

	loaded, err := store.LoadSnapshot(ctx, period.MustWindow(target))
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	rec, ok := loaded.ByPeriod(1)
	require.True(t, ok)
	assert.Equal(t, "15", rec.Value.Decimal.String())
	assert.True(t, loaded.LatestPublish().Equal(t1.Add(time.Hour)))
}

func TestSQLiteLoadMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.LoadSnapshot(context.Background(), period.MustWindow(target))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLiteListSnapshots(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for i := 0; i < 3; i++ {
		day := target.AddDate(0, 0, i)
		require.NoError(t, store.SaveSnapshot(ctx, buildSnapshot(day, t1, map[int]string{1: "1", 2: "2"})))
	}

	list, err := store.ListSnapshots(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, target.AddDate(0, 0, 2), list[0].TargetDate)
	assert.Equal(t, target.AddDate(0, 0, 1), list[1].TargetDate)
	assert.Equal(t, 2, list[0].Periods)
	assert.True(t, list[0].LatestPublish.Equal(t1))
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.EnsureSchema(context.Background()))
}

func TestStoreWithoutPool(t *testing.T) {
	var store *Store
	ctx := context.Background()

	assert.ErrorIs(t, store.SaveSnapshot(ctx, snapshot.Snapshot{}), ErrNotConfigured)
	_, err := store.LoadSnapshot(ctx, period.MustWindow(target))
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, _, err = store.TryAdvisoryLock(ctx, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	store.Close()
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)

	_, err = Open(context.Background(), config.DatabaseConfig{Driver: "sqlite"})
	assert.Error(t, err)
}

func TestLockKeyIsPerDate(t *testing.T) {
	a := LockKey(target)
	b := LockKey(target.Add(5 * time.Hour))
	c := LockKey(target.AddDate(0, 0, 1))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, int64(20251207), a&0xffffffff)
}
