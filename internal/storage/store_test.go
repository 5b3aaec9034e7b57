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

	"github.com/aboutPJS/price-api/internal/pricing"
)

var base = time.Date(2025, 8, 7, 10, 0, 0, 0, time.UTC)

func record(hour int, total string) pricing.PriceRecord {
	t := decimal.RequireFromString(total)
	return pricing.PriceRecord{
		Timestamp:       base.Add(time.Duration(hour) * time.Hour),
		SpotPrice:       t,
		TransportAndTax: decimal.Zero,
		TotalPrice:      t,
	}
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "prices.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func ingest(t *testing.T, store PriceStore, records ...pricing.PriceRecord) {
	t.Helper()
	err := store.WithinIngest(context.Background(), func(w PriceWriter) error {
		return w.UpsertRecords(context.Background(), records)
	})
	require.NoError(t, err)
}

func TestUpsertIsIdempotent(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ingest(t, store, record(0, "1.5"), record(1, "2.25"))
			ingest(t, store, record(0, "1.5"), record(1, "3"))

			got, err := store.ListRange(ctx, base, time.Time{})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.True(t, got[0].TotalPrice.Equal(decimal.RequireFromString("1.5")))
			assert.True(t, got[1].TotalPrice.Equal(decimal.RequireFromString("3")))
			assert.Equal(t, pricing.TierOkay, got[0].Tier)
			assert.True(t, got[0].Timestamp.Equal(base))
		})
	}
}

func TestListRangeBoundsAndOrder(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ingest(t, store, record(3, "4"), record(0, "1"), record(2, "3"), record(1, "2"))

			got, err := store.ListRange(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.True(t, got[0].Timestamp.Equal(base.Add(time.Hour)))
			assert.True(t, got[1].Timestamp.Equal(base.Add(2*time.Hour)))

			all, err := store.ListRange(ctx, time.Time{}, time.Time{})
			require.NoError(t, err)
			require.Len(t, all, 4)
			for i := 1; i < len(all); i++ {
				assert.True(t, all[i-1].Timestamp.Before(all[i].Timestamp))
			}
		})
	}
}

func TestUpdateTiersKeepsPricesAndSurvivesUpsert(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ingest(t, store, record(0, "1"), record(1, "9"))

			err := store.WithinIngest(ctx, func(w PriceWriter) error {
				current, err := w.ListRange(ctx, base, time.Time{})
				if err != nil {
					return err
				}
				classified, _, _ := pricing.ClassifyWindow(current)
				return w.UpdateTiers(ctx, classified)
			})
			require.NoError(t, err)

			got, err := store.ListRange(ctx, base, time.Time{})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, pricing.TierPrefer, got[0].Tier)
			assert.Equal(t, pricing.TierAvoid, got[1].Tier)
			assert.True(t, got[0].WindowMedian.Equal(decimal.NewFromInt(5)))

			// a price-only upsert does not reset the tier
			ingest(t, store, record(0, "1"))
			got, err = store.ListRange(ctx, base, base.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, pricing.TierPrefer, got[0].Tier)
		})
	}
}

func TestWithinIngestRollsBackOnError(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			boom := errors.New("boom")
			err := store.WithinIngest(ctx, func(w PriceWriter) error {
				if err := w.UpsertRecords(ctx, []pricing.PriceRecord{record(0, "1")}); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			got, err := store.ListRange(ctx, time.Time{}, time.Time{})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestDeleteBefore(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ingest(t, store, record(0, "1"), record(1, "2"), record(2, "3"))

			deleted, err := store.DeleteBefore(ctx, base.Add(2*time.Hour))
			require.NoError(t, err)
			assert.EqualValues(t, 2, deleted)

			got, err := store.ListRange(ctx, time.Time{}, time.Time{})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.True(t, got[0].Timestamp.Equal(base.Add(2*time.Hour)))
		})
	}
}

func TestIngestRuns(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			last, err := store.LastSuccessfulIngest(ctx)
			require.NoError(t, err)
			assert.True(t, last.IsZero())

			ok := NewIngestRun(base)
			ok.FinishedAt = base.Add(time.Minute)
			ok.Status = IngestStatusSuccess
			ok.Records = 24
			require.NoError(t, store.RecordIngestRun(ctx, ok))

			msg := "feed unavailable"
			failed := NewIngestRun(base.Add(time.Hour))
			failed.FinishedAt = base.Add(time.Hour + time.Minute)
			failed.Status = IngestStatusFailed
			failed.Error = &msg
			require.NoError(t, store.RecordIngestRun(ctx, failed))

			last, err = store.LastSuccessfulIngest(ctx)
			require.NoError(t, err)
			assert.True(t, last.Equal(ok.FinishedAt))

			runs, err := store.ListRecentIngestRuns(ctx, 10)
			require.NoError(t, err)
			require.Len(t, runs, 2)
			assert.Equal(t, failed.ID, runs[0].ID)
			require.NotNil(t, runs[0].Error)
			assert.Equal(t, msg, *runs[0].Error)
			assert.Equal(t, 24, runs[1].Records)
			assert.Nil(t, runs[1].Error)

			runs, err = store.ListRecentIngestRuns(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, runs, 1)
		})
	}
}

func TestPostgresStoreWithoutPool(t *testing.T) {
	var store *PostgresStore
	_, err := store.ListRange(context.Background(), base, time.Time{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, store.Close())
}
