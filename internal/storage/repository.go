package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aboutPJS/price-api/internal/pricing"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS price_records (
        ts                TIMESTAMPTZ PRIMARY KEY,
        spot_price        NUMERIC(12,6) NOT NULL CHECK (spot_price >= 0),
        transport_and_tax NUMERIC(12,6) NOT NULL CHECK (transport_and_tax >= 0),
        total_price       NUMERIC(12,6) NOT NULL CHECK (total_price >= 0),
        window_median     NUMERIC(12,6) NOT NULL DEFAULT 0,
        tier              TEXT NOT NULL DEFAULT 'OKAY' CHECK (tier IN ('PREFER', 'OKAY', 'AVOID')),
        created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE TABLE IF NOT EXISTS ingest_runs (
        id          UUID PRIMARY KEY,
        started_at  TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ NOT NULL,
        status      TEXT NOT NULL,
        records     INTEGER NOT NULL DEFAULT 0,
        error       TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_ingest_runs_finished ON ingest_runs (status, finished_at DESC);`

	upsertPriceRecordSQL = `INSERT INTO price_records (
        ts,
        spot_price,
        transport_and_tax,
        total_price,
        window_median,
        tier
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (ts) DO UPDATE
    SET
        spot_price        = EXCLUDED.spot_price,
        transport_and_tax = EXCLUDED.transport_and_tax,
        total_price       = EXCLUDED.total_price,
        updated_at        = NOW();`

	updateTierSQL = `UPDATE price_records
    SET tier = $2, window_median = $3, updated_at = NOW()
    WHERE ts = $1;`

	listRangeSQL = `SELECT
        ts,
        spot_price::text,
        transport_and_tax::text,
        total_price::text,
        window_median::text,
        tier
    FROM price_records
    WHERE ts >= $1
      AND ($2::timestamptz IS NULL OR ts < $2)
    ORDER BY ts;`

	deleteBeforeSQL = `DELETE FROM price_records WHERE ts < $1;`

	insertIngestRunSQL = `INSERT INTO ingest_runs (
        id,
        started_at,
        finished_at,
        status,
        records,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	lastSuccessfulIngestSQL = `SELECT finished_at
    FROM ingest_runs
    WHERE status = 'success'
    ORDER BY finished_at DESC
    LIMIT 1;`

	listRecentIngestRunsSQL = `SELECT
        id::text,
        started_at,
        finished_at,
        status,
        records,
        error
    FROM ingest_runs
    ORDER BY finished_at DESC
    LIMIT $1;`

	advisoryXactLockSQL = `SELECT pg_advisory_xact_lock($1);`
	tryAdvisoryLockSQL  = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL   = `SELECT pg_advisory_unlock($1);`
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresStore persists the price series in PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	lockKey int64
}

// NewPostgresStore wires a pgx pool into a store. Ingest transactions take
// a transaction scoped advisory lock on lockKey unless it is zero.
func NewPostgresStore(pool *pgxpool.Pool, lockKey int64) *PostgresStore {
	return &PostgresStore{pool: pool, lockKey: lockKey}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// Migrate creates the schema when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
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
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ListRange lists records with from <= ts < to.
func (s *PostgresStore) ListRange(ctx context.Context, from, to time.Time) ([]pricing.PriceRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return listRange(ctx, pool, from, to)
}

// WithinIngest runs fn in a transaction holding the ingest advisory lock.
func (s *PostgresStore) WithinIngest(ctx context.Context, fn func(w PriceWriter) error) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if s.lockKey != 0 {
			if _, err := tx.Exec(ctx, advisoryXactLockSQL, s.lockKey); err != nil {
				return fmt.Errorf("acquire ingest lock: %w", err)
			}
		}
		return fn(&pgWriter{q: tx})
	})
}

// DeleteBefore removes records older than cutoff.
func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteBeforeSQL, cutoff.UTC())
	if execErr != nil {
		return 0, fmt.Errorf("delete records before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// RecordIngestRun persists an ingestion cycle outcome.
func (s *PostgresStore) RecordIngestRun(ctx context.Context, run IngestRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if run.Error != nil {
		errMsg = *run.Error
	}

	if _, execErr := pool.Exec(ctx, insertIngestRunSQL,
		run.ID.String(),
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.Status,
		run.Records,
		errMsg,
	); execErr != nil {
		return fmt.Errorf("insert ingest run: %w", execErr)
	}
	return nil
}

// LastSuccessfulIngest returns when the last successful run finished.
func (s *PostgresStore) LastSuccessfulIngest(ctx context.Context) (time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, err
	}

	var finished time.Time
	if scanErr := pool.QueryRow(ctx, lastSuccessfulIngestSQL).Scan(&finished); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("last successful ingest: %w", scanErr)
	}
	return finished.UTC(), nil
}

// ListRecentIngestRuns lists the most recent runs, newest first.
func (s *PostgresStore) ListRecentIngestRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentIngestRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent ingest runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]IngestRun, 0, limit)
	for rows.Next() {
		var (
			id     string
			run    IngestRun
			errMsg sql.NullString
		)
		if err := rows.Scan(&id, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Records, &errMsg); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse ingest run id: %w", err)
		}
		run.ID = parsed
		if errMsg.Valid {
			msg := errMsg.String
			run.Error = &msg
		}
		runs = append(runs, run)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

type pgWriter struct {
	q querier
}

func (w *pgWriter) ListRange(ctx context.Context, from, to time.Time) ([]pricing.PriceRecord, error) {
	return listRange(ctx, w.q, from, to)
}

func (w *pgWriter) UpsertRecords(ctx context.Context, records []pricing.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(upsertPriceRecordSQL,
			rec.Timestamp.UTC(),
			rec.SpotPrice.String(),
			rec.TransportAndTax.String(),
			rec.TotalPrice.String(),
			rec.WindowMedian.String(),
			string(pricing.TierOkay),
		)
	}
	if err := w.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert price records: %w", err)
	}
	return nil
}

func (w *pgWriter) UpdateTiers(ctx context.Context, records []pricing.PriceRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(updateTierSQL, rec.Timestamp.UTC(), string(rec.Tier), rec.WindowMedian.String())
	}
	if err := w.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update tiers: %w", err)
	}
	return nil
}

func listRange(ctx context.Context, q querier, from, to time.Time) ([]pricing.PriceRecord, error) {
	var upper interface{}
	if !to.IsZero() {
		upper = to.UTC()
	}

	rows, queryErr := q.Query(ctx, listRangeSQL, from.UTC(), upper)
	if queryErr != nil {
		return nil, fmt.Errorf("list price records: %w", queryErr)
	}
	defer rows.Close()

	records := make([]pricing.PriceRecord, 0)
	for rows.Next() {
		rec, scanErr := scanPriceRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanPriceRecord(rows pgx.Rows) (pricing.PriceRecord, error) {
	var (
		ts        time.Time
		spotStr   string
		taxStr    string
		totalStr  string
		medianStr string
		tierStr   string
	)

	if err := rows.Scan(&ts, &spotStr, &taxStr, &totalStr, &medianStr, &tierStr); err != nil {
		return pricing.PriceRecord{}, err
	}
	return decodeRecord(ts, spotStr, taxStr, totalStr, medianStr, tierStr)
}

func decodeRecord(ts time.Time, spotStr, taxStr, totalStr, medianStr, tierStr string) (pricing.PriceRecord, error) {
	spot, err := decimal.NewFromString(spotStr)
	if err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse spot price: %w", err)
	}
	tax, err := decimal.NewFromString(taxStr)
	if err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse transport and tax: %w", err)
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse total price: %w", err)
	}
	median, err := decimal.NewFromString(medianStr)
	if err != nil {
		return pricing.PriceRecord{}, fmt.Errorf("parse window median: %w", err)
	}
	tier, err := pricing.ParseTier(tierStr)
	if err != nil {
		return pricing.PriceRecord{}, err
	}

	return pricing.PriceRecord{
		Timestamp:       ts.UTC(),
		SpotPrice:       spot,
		TransportAndTax: tax,
		TotalPrice:      total,
		WindowMedian:    median,
		Tier:            tier,
	}, nil
}

var (
	_ Backend        = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
	_ PriceWriter    = (*pgWriter)(nil)
)
