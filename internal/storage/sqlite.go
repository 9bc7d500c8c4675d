package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

const (
	sqliteSchemaSQL = `
    CREATE TABLE IF NOT EXISTS imbalance_checkpoints (
        target_date    TEXT PRIMARY KEY,
        latest_publish TEXT NOT NULL,
        periods        INTEGER NOT NULL,
        updated_at     TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS imbalance_records (
        target_date       TEXT NOT NULL REFERENCES imbalance_checkpoints (target_date) ON DELETE CASCADE,
        settlement_date   TEXT NOT NULL,
        settlement_period INTEGER NOT NULL,
        start_time        TEXT NOT NULL,
        publish_time      TEXT NOT NULL,
        imbalance_mw      TEXT NOT NULL,
        PRIMARY KEY (target_date, settlement_date, settlement_period)
    );`

	sqliteUpsertCheckpointSQL = `INSERT INTO imbalance_checkpoints (target_date, latest_publish, periods, updated_at)
    VALUES (?, ?, ?, ?)
    ON CONFLICT (target_date) DO UPDATE
    SET latest_publish = excluded.latest_publish,
        periods        = excluded.periods,
        updated_at     = excluded.updated_at;`

	sqliteDeleteRecordsSQL = `DELETE FROM imbalance_records WHERE target_date = ?;`

	sqliteInsertRecordSQL = `INSERT INTO imbalance_records (
        target_date, settlement_date, settlement_period, start_time, publish_time, imbalance_mw
    ) VALUES (?, ?, ?, ?, ?, ?);`

	sqliteGetCheckpointSQL = `SELECT target_date, latest_publish, periods, updated_at
    FROM imbalance_checkpoints WHERE target_date = ?;`

	sqliteListRecordsSQL = `SELECT settlement_date, settlement_period, start_time, publish_time, imbalance_mw
    FROM imbalance_records
    WHERE target_date = ?
    ORDER BY settlement_date, settlement_period;`

	sqliteListCheckpointsSQL = `SELECT target_date, latest_publish, periods, updated_at
    FROM imbalance_checkpoints
    ORDER BY target_date DESC
    LIMIT ?;`
)

// SQLiteStore is the single-file backend for local runs.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at dsn.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and writes serialised
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// EnsureSchema creates the checkpoint tables when missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveSnapshot replaces the checkpoint for the snapshot's target date.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap snapshot.Snapshot) error {
	target := snap.Window().Target().Format(period.DateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save snapshot: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, sqliteUpsertCheckpointSQL,
		target, formatTS(snap.LatestPublish()), snap.Len(), formatTS(s.now())); err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	if _, err := tx.ExecContext(ctx, sqliteDeleteRecordsSQL, target); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, sqliteInsertRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range snap.Records() {
		row := rowFromRecord(rec)
		if _, err := stmt.ExecContext(ctx,
			target,
			row.SettlementDate.Format(period.DateLayout),
			row.SettlementPeriod,
			formatTS(row.StartTime),
			formatTS(row.PublishTime),
			row.ImbalanceMW,
		); err != nil {
			return fmt.Errorf("insert record %d: %w", row.SettlementPeriod, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot rebuilds the checkpointed snapshot for w.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, w period.Window) (snapshot.Snapshot, error) {
	target := w.Target().Format(period.DateLayout)

	if _, err := scanCheckpoint(s.db.QueryRowContext(ctx, sqliteGetCheckpointSQL, target)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.Snapshot{}, ErrNotFound
		}
		return snapshot.Snapshot{}, fmt.Errorf("get checkpoint: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqliteListRecordsSQL, target)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []snapshot.Record
	for rows.Next() {
		var (
			date, start, published string
			r                      recordRow
		)
		if err := rows.Scan(&date, &r.SettlementPeriod, &start, &published, &r.ImbalanceMW); err != nil {
			return snapshot.Snapshot{}, err
		}
		if r.SettlementDate, err = period.ParseDate(date); err != nil {
			return snapshot.Snapshot{}, err
		}
		if r.StartTime, err = parseTS(start); err != nil {
			return snapshot.Snapshot{}, err
		}
		if r.PublishTime, err = parseTS(published); err != nil {
			return snapshot.Snapshot{}, err
		}
		rec, err := r.record()
		if err != nil {
			return snapshot.Snapshot{}, fmt.Errorf("parse imbalance: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return snapshot.Snapshot{}, err
	}

	return snapshot.Reduce(records, w), nil
}

// ListSnapshots lists checkpoints by descending target date.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, limit int) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, sqliteListCheckpointsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row scanner) (Checkpoint, error) {
	var (
		cp                        Checkpoint
		target, latest, updatedAt string
	)
	if err := row.Scan(&target, &latest, &cp.Periods, &updatedAt); err != nil {
		return Checkpoint{}, err
	}

	var err error
	if cp.TargetDate, err = period.ParseDate(target); err != nil {
		return Checkpoint{}, err
	}
	if cp.LatestPublish, err = parseTS(latest); err != nil {
		return Checkpoint{}, err
	}
	if cp.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

var _ Backend = (*SQLiteStore)(nil)
