package storage

import (
	"context"
	"errors"
	"time"

	"github.com/aboutPJS/price-api/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
)

// PriceReader reads the hourly series. Results are ordered by timestamp.
type PriceReader interface {
	// ListRange returns records with from <= ts < to. A zero to leaves the
	// range open towards the future.
	ListRange(ctx context.Context, from, to time.Time) ([]pricing.PriceRecord, error)
}

// PriceWriter mutates the series inside an ingest transaction.
type PriceWriter interface {
	PriceReader
	// UpsertRecords inserts records or overwrites prices at existing timestamps.
	UpsertRecords(ctx context.Context, records []pricing.PriceRecord) error
	// UpdateTiers persists tier and window median of already stored records.
	UpdateTiers(ctx context.Context, records []pricing.PriceRecord) error
}

// PriceStore is the persistence contract of the optimizer.
type PriceStore interface {
	PriceReader
	// WithinIngest runs fn atomically. Concurrent ingests are serialised.
	WithinIngest(ctx context.Context, fn func(w PriceWriter) error) error
	// DeleteBefore removes records with ts < cutoff and returns how many went.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// IngestLog records ingestion cycles.
type IngestLog interface {
	RecordIngestRun(ctx context.Context, run IngestRun) error
	// LastSuccessfulIngest returns the zero time when nothing was ingested yet.
	LastSuccessfulIngest(ctx context.Context) (time.Time, error)
	ListRecentIngestRuns(ctx context.Context, limit int) ([]IngestRun, error)
}

// AdvisoryLocker exposes cross-process lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend bundles everything the service needs from persistence.
type Backend interface {
	PriceStore
	IngestLog
	Close() error
}
