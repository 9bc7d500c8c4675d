package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates no checkpoint exists for the requested date.
	ErrNotFound = errors.New("storage: checkpoint not found")
)

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS imbalance_checkpoints (
        target_date    DATE PRIMARY KEY,
        latest_publish TIMESTAMPTZ NOT NULL,
        periods        INTEGER NOT NULL,
        updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS imbalance_records (
        target_date       DATE NOT NULL REFERENCES imbalance_checkpoints (target_date) ON DELETE CASCADE,
        settlement_date   DATE NOT NULL,
        settlement_period SMALLINT NOT NULL,
        start_time        TIMESTAMPTZ NOT NULL,
        publish_time      TIMESTAMPTZ NOT NULL,
        imbalance_mw      NUMERIC NOT NULL,
        PRIMARY KEY (target_date, settlement_date, settlement_period)
    );`

	pgUpsertCheckpointSQL = `INSERT INTO imbalance_checkpoints (
        target_date,
        latest_publish,
        periods,
        updated_at
    ) VALUES (
        $1,$2,$3,now()
    )
    ON CONFLICT (target_date) DO UPDATE
    SET
        latest_publish = EXCLUDED.latest_publish,
        periods        = EXCLUDED.periods,
        updated_at     = EXCLUDED.updated_at;`

	pgDeleteRecordsSQL = `DELETE FROM imbalance_records WHERE target_date = $1;`

	pgInsertRecordSQL = `INSERT INTO imbalance_records (
        target_date,
        settlement_date,
        settlement_period,
        start_time,
        publish_time,
        imbalance_mw
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	pgGetCheckpointSQL = `SELECT target_date, latest_publish, periods, updated_at
    FROM imbalance_checkpoints
    WHERE target_date = $1;`

	pgListRecordsSQL = `SELECT
        settlement_date,
        settlement_period,
        start_time,
        publish_time,
        imbalance_mw::text
    FROM imbalance_records
    WHERE target_date = $1
    ORDER BY settlement_date, settlement_period;`

	pgListCheckpointsSQL = `SELECT target_date, latest_publish, periods, updated_at
    FROM imbalance_checkpoints
    ORDER BY target_date DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SnapshotStore checkpoints the current snapshot per target date so a
// restarted watcher can diff against what it last saw.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s snapshot.Snapshot) error
	LoadSnapshot(ctx context.Context, w period.Window) (snapshot.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]Checkpoint, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is a SnapshotStore that owns its connection.
type Backend interface {
	SnapshotStore
	EnsureSchema(ctx context.Context) error
	Close()
}

// Store is the PostgreSQL backend.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the checkpoint tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// a failed unlock is released with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveSnapshot replaces the checkpoint for the snapshot's target date.
func (s *Store) SaveSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	target := snap.Window().Target()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save snapshot: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, pgUpsertCheckpointSQL, target, snap.LatestPublish(), snap.Len()); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	if _, err := tx.Exec(ctx, pgDeleteRecordsSQL, target); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}

	batch := &pgx.Batch{}
	for _, rec := range snap.Records() {
		row := rowFromRecord(rec)
		batch.Queue(pgInsertRecordSQL,
			target,
			row.SettlementDate,
			row.SettlementPeriod,
			row.StartTime,
			row.PublishTime,
			row.ImbalanceMW,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot rebuilds the checkpointed snapshot for w.
func (s *Store) LoadSnapshot(ctx context.Context, w period.Window) (snapshot.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return snapshot.Snapshot{}, err
	}

	var cp Checkpoint
	row := pool.QueryRow(ctx, pgGetCheckpointSQL, w.Target())
	if err := row.Scan(&cp.TargetDate, &cp.LatestPublish, &cp.Periods, &cp.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return snapshot.Snapshot{}, ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("get checkpoint: %w", err)
	}

	rows, err := pool.Query(ctx, pgListRecordsSQL, w.Target())
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := make([]snapshot.Record, 0, cp.Periods)
	for rows.Next() {
		var r recordRow
		if err := rows.Scan(&r.SettlementDate, &r.SettlementPeriod, &r.StartTime, &r.PublishTime, &r.ImbalanceMW); err != nil {
			return snapshot.Snapshot{}, err
		}
		rec, err := r.record()
		if err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("parse imbalance: %w", err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return snapshot.Snapshot{}, rows.Err()
	}

	return snapshot.Reduce(records, w), nil
}

// ListSnapshots lists checkpoints by descending target date.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]Checkpoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, pgListCheckpointsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	out := make([]Checkpoint, 0, limit)
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.TargetDate, &cp.LatestPublish, &cp.Periods, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		cp.TargetDate = period.Day(cp.TargetDate)
		cp.LatestPublish = cp.LatestPublish.UTC()
		cp.UpdatedAt = cp.UpdatedAt.UTC()
		out = append(out, cp)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

var (
	_ Backend        = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
