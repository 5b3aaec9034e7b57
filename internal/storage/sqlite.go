package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/aboutPJS/price-api/internal/pricing"
)

// SQLiteStore persists the price series in a single SQLite file.
// Timestamps are stored as unix seconds and decimals as text.
type SQLiteStore struct {
	db *sql.DB
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS price_records (
  ts INTEGER PRIMARY KEY,
  spot_price TEXT NOT NULL,
  transport_and_tax TEXT NOT NULL,
  total_price TEXT NOT NULL,
  window_median TEXT NOT NULL DEFAULT '0',
  tier TEXT NOT NULL DEFAULT 'OKAY',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_runs (
  id TEXT PRIMARY KEY,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL,
  status TEXT NOT NULL,
  records INTEGER NOT NULL DEFAULT 0,
  error TEXT
);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_finished ON ingest_runs(status, finished_at);
`)
	if err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) ListRange(ctx context.Context, from, to time.Time) ([]pricing.PriceRecord, error) {
	return sqliteListRange(ctx, s.db, from, to)
}

// WithinIngest runs fn inside a transaction on the single connection.
func (s *SQLiteStore) WithinIngest(ctx context.Context, fn func(w PriceWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ingest tx: %w", err)
	}
	if err := fn(&sqliteWriter{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ingest tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM price_records WHERE ts < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("delete records before: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) RecordIngestRun(ctx context.Context, run IngestRun) error {
	var errMsg sql.NullString
	if run.Error != nil {
		errMsg = sql.NullString{String: *run.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ingest_runs (id, started_at, finished_at, status, records, error)
VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.Status, run.Records, errMsg)
	if err != nil {
		return fmt.Errorf("insert ingest run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LastSuccessfulIngest(ctx context.Context) (time.Time, error) {
	var finished int64
	err := s.db.QueryRowContext(ctx, `
SELECT finished_at FROM ingest_runs
WHERE status = ?
ORDER BY finished_at DESC
LIMIT 1`, IngestStatusSuccess).Scan(&finished)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last successful ingest: %w", err)
	}
	return time.UnixMilli(finished).UTC(), nil
}

func (s *SQLiteStore) ListRecentIngestRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, finished_at, status, records, error
FROM ingest_runs
ORDER BY finished_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent ingest runs: %w", err)
	}
	defer rows.Close()

	var runs []IngestRun
	for rows.Next() {
		var (
			id                string
			started, finished int64
			run               IngestRun
			errMsg            sql.NullString
		)
		if err := rows.Scan(&id, &started, &finished, &run.Status, &run.Records, &errMsg); err != nil {
			return nil, err
		}
		if run.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse ingest run id: %w", err)
		}
		run.StartedAt = time.UnixMilli(started).UTC()
		run.FinishedAt = time.UnixMilli(finished).UTC()
		if errMsg.Valid {
			msg := errMsg.String
			run.Error = &msg
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type sqliteWriter struct {
	q sqlQuerier
}

func (w *sqliteWriter) ListRange(ctx context.Context, from, to time.Time) ([]pricing.PriceRecord, error) {
	return sqliteListRange(ctx, w.q, from, to)
}

func (w *sqliteWriter) UpsertRecords(ctx context.Context, records []pricing.PriceRecord) error {
	now := time.Now().Unix()
	for _, rec := range records {
		_, err := w.q.ExecContext(ctx, `
INSERT INTO price_records (ts, spot_price, transport_and_tax, total_price, window_median, tier, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(ts) DO UPDATE SET
  spot_price = excluded.spot_price,
  transport_and_tax = excluded.transport_and_tax,
  total_price = excluded.total_price,
  updated_at = excluded.updated_at`,
			rec.Timestamp.Unix(),
			rec.SpotPrice.String(),
			rec.TransportAndTax.String(),
			rec.TotalPrice.String(),
			rec.WindowMedian.String(),
			string(pricing.TierOkay),
			now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert price record %s: %w", rec.Timestamp.UTC().Format(time.RFC3339), err)
		}
	}
	return nil
}

func (w *sqliteWriter) UpdateTiers(ctx context.Context, records []pricing.PriceRecord) error {
	now := time.Now().Unix()
	for _, rec := range records {
		_, err := w.q.ExecContext(ctx,
			`UPDATE price_records SET tier = ?, window_median = ?, updated_at = ? WHERE ts = ?`,
			string(rec.Tier), rec.WindowMedian.String(), now, rec.Timestamp.Unix())
		if err != nil {
			return fmt.Errorf("update tier %s: %w", rec.Timestamp.UTC().Format(time.RFC3339), err)
		}
	}
	return nil
}

func sqliteListRange(ctx context.Context, q sqlQuerier, from, to time.Time) ([]pricing.PriceRecord, error) {
	query := `
SELECT ts, spot_price, transport_and_tax, total_price, window_median, tier
FROM price_records
WHERE ts >= ?`
	args := []any{from.Unix()}
	if !to.IsZero() {
		query += ` AND ts < ?`
		args = append(args, to.Unix())
	}
	query += ` ORDER BY ts`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list price records: %w", err)
	}
	defer rows.Close()

	records := make([]pricing.PriceRecord, 0)
	for rows.Next() {
		var (
			ts                                  int64
			spot, tax, total, median, tierValue string
		)
		if err := rows.Scan(&ts, &spot, &tax, &total, &median, &tierValue); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(time.Unix(ts, 0), spot, tax, total, median, tierValue)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

var (
	_ Backend     = (*SQLiteStore)(nil)
	_ PriceWriter = (*sqliteWriter)(nil)
)
