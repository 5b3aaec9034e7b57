package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aboutPJS/price-api/internal/pricing"
)

// MemoryStore keeps the series in process memory. Ingests work on a copy
// which replaces the live map on success, so readers never observe a
// half-applied batch.
type MemoryStore struct {
	ingestMu sync.Mutex

	mu      sync.RWMutex
	records map[int64]pricing.PriceRecord
	runs    []IngestRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]pricing.PriceRecord)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) ListRange(ctx context.Context, from, to time.Time) ([]pricing.PriceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rangeOf(s.records, from, to), nil
}

func (s *MemoryStore) WithinIngest(ctx context.Context, fn func(w PriceWriter) error) error {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.RLock()
	draft := make(map[int64]pricing.PriceRecord, len(s.records))
	for k, v := range s.records {
		draft[k] = v
	}
	s.mu.RUnlock()

	if err := fn(&memoryWriter{records: draft}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.records = draft
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	limit := cutoff.Unix()
	for k := range s.records {
		if k < limit {
			delete(s.records, k)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) RecordIngestRun(_ context.Context, run IngestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func (s *MemoryStore) LastSuccessfulIngest(context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, run := range s.runs {
		if run.Succeeded() && run.FinishedAt.After(last) {
			last = run.FinishedAt
		}
	}
	return last, nil
}

func (s *MemoryStore) ListRecentIngestRuns(_ context.Context, limit int) ([]IngestRun, error) {
	s.mu.RLock()
	runs := append([]IngestRun(nil), s.runs...)
	s.mu.RUnlock()

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].FinishedAt.After(runs[j].FinishedAt)
	})
	if limit >= 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

type memoryWriter struct {
	records map[int64]pricing.PriceRecord
}

func (w *memoryWriter) ListRange(_ context.Context, from, to time.Time) ([]pricing.PriceRecord, error) {
	return rangeOf(w.records, from, to), nil
}

func (w *memoryWriter) UpsertRecords(_ context.Context, records []pricing.PriceRecord) error {
	for _, rec := range records {
		key := rec.Timestamp.Unix()
		stored, ok := w.records[key]
		if !ok {
			stored = pricing.PriceRecord{Timestamp: rec.Timestamp.UTC(), Tier: pricing.TierOkay}
		}
		stored.SpotPrice = rec.SpotPrice
		stored.TransportAndTax = rec.TransportAndTax
		stored.TotalPrice = rec.TotalPrice
		w.records[key] = stored
	}
	return nil
}

func (w *memoryWriter) UpdateTiers(_ context.Context, records []pricing.PriceRecord) error {
	for _, rec := range records {
		key := rec.Timestamp.Unix()
		stored, ok := w.records[key]
		if !ok {
			continue
		}
		stored.Tier = rec.Tier
		stored.WindowMedian = rec.WindowMedian
		w.records[key] = stored
	}
	return nil
}

func rangeOf(records map[int64]pricing.PriceRecord, from, to time.Time) []pricing.PriceRecord {
	lower := from.Unix()
	out := make([]pricing.PriceRecord, 0)
	for k, rec := range records {
		if k < lower {
			continue
		}
		if !to.IsZero() && k >= to.Unix() {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

var (
	_ Backend     = (*MemoryStore)(nil)
	_ PriceWriter = (*memoryWriter)(nil)
)
