package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aboutPJS/price-api/internal/alerting"
	"github.com/aboutPJS/price-api/internal/cache"
	"github.com/aboutPJS/price-api/internal/fetcher"
	"github.com/aboutPJS/price-api/internal/health"
	"github.com/aboutPJS/price-api/internal/optimizer"
	"github.com/aboutPJS/price-api/internal/pricing"
	"github.com/aboutPJS/price-api/internal/storage"
)

// Tracker shares ingest state across instances.
type Tracker interface {
	Publish(ctx context.Context, ev cache.IngestEvent) error
	LastIngest(ctx context.Context) (time.Time, error)
}

// Options tune the service.
type Options struct {
	// Location anchors classification windows at local midnight.
	Location  *time.Location
	Retention pricing.RetentionPolicy
	// LockKey guards whole ingest cycles across processes; zero disables it.
	LockKey    int64
	StaleAfter time.Duration
	Now        func() time.Time
}

// Service orchestrates ingestion, classification, queries, and retention.
type Service struct {
	store    storage.Backend
	feed     fetcher.PriceFeed
	tracker  Tracker
	notifier alerting.Notifier
	locker   storage.AdvisoryLocker
	logger   zerolog.Logger

	loc        *time.Location
	retention  pricing.RetentionPolicy
	lockKey    int64
	staleAfter time.Duration
	now        func() time.Time

	mu        sync.RWMutex
	listeners []func(cache.IngestEvent)
}

// New wires the service. feed, tracker and notifier may be nil.
func New(store storage.Backend, feed fetcher.PriceFeed, tracker Tracker, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	retention := opts.Retention
	if retention.Horizon <= 0 {
		retention = pricing.NewRetentionPolicy(pricing.DefaultRetentionDays)
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = health.AcceptableWithin
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:      store,
		feed:       feed,
		tracker:    tracker,
		notifier:   notifier,
		locker:     locker,
		logger:     logger.With().Str("component", "service").Logger(),
		loc:        loc,
		retention:  retention,
		lockKey:    opts.LockKey,
		staleAfter: staleAfter,
		now:        now,
	}
}

// OnIngest registers a callback for finished ingest cycles of this process.
func (s *Service) OnIngest(fn func(cache.IngestEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// PriceChange is a stored hour whose total price was replaced.
type PriceChange struct {
	Timestamp time.Time
	Old       decimal.Decimal
	New       decimal.Decimal
}

// IngestResult summarises one ingested batch.
type IngestResult struct {
	Records  int
	Inserted int
	Updated  int
	Changes  []PriceChange
	Windows  int
	Skipped  int
	Earliest time.Time
	Latest   time.Time
}

// Ingest upserts records and reclassifies every window the batch touches,
// atomically. The whole batch is rejected if any record is invalid.
func (s *Service) Ingest(ctx context.Context, records []pricing.PriceRecord) (IngestResult, error) {
	batch, err := normalizeBatch(records)
	if err != nil {
		return IngestResult{}, err
	}
	if len(batch) == 0 {
		return IngestResult{}, nil
	}
	for _, rec := range batch {
		if rec.SpotPrice.IsNegative() {
			s.logger.Warn().
				Time("timestamp", rec.Timestamp).
				Str("spot_price", rec.SpotPrice.String()).
				Str("total_price", rec.TotalPrice.String()).
				Msg("negative spot price")
		}
	}

	result := IngestResult{
		Records:  len(batch),
		Earliest: batch[0].Timestamp,
		Latest:   batch[len(batch)-1].Timestamp,
	}
	windows := pricing.Windows(batch, s.loc)

	err = s.store.WithinIngest(ctx, func(w storage.PriceWriter) error {
		existing, err := w.ListRange(ctx, result.Earliest, result.Latest.Add(time.Hour))
		if err != nil {
			return fmt.Errorf("load existing records: %w", err)
		}
		previous := make(map[int64]decimal.Decimal, len(existing))
		for _, rec := range existing {
			previous[rec.Timestamp.Unix()] = rec.TotalPrice
		}
		for _, rec := range batch {
			old, ok := previous[rec.Timestamp.Unix()]
			if !ok {
				result.Inserted++
				continue
			}
			result.Updated++
			if !old.Equal(rec.TotalPrice) {
				result.Changes = append(result.Changes, PriceChange{Timestamp: rec.Timestamp, Old: old, New: rec.TotalPrice})
			}
		}

		if err := w.UpsertRecords(ctx, batch); err != nil {
			return err
		}

		for _, win := range windows {
			current, err := w.ListRange(ctx, win.Start, win.End)
			if err != nil {
				return fmt.Errorf("load window %s: %w", win.Start.Format(time.RFC3339), err)
			}
			classified, bounds, ok := pricing.ClassifyWindow(current)
			if !ok {
				result.Skipped++
				s.logger.Debug().Time("window_start", win.Start).Msg("empty classification window skipped")
				continue
			}
			if err := w.UpdateTiers(ctx, classified); err != nil {
				return err
			}
			result.Windows++
			s.logger.Debug().
				Time("window_start", win.Start).
				Int("samples", bounds.Samples).
				Str("lower", bounds.Lower.String()).
				Str("upper", bounds.Upper.String()).
				Str("median", bounds.Median.String()).
				Str("min", bounds.Min.String()).
				Str("max", bounds.Max.String()).
				Msg("window classified")
		}
		return nil
	})
	if err != nil {
		return IngestResult{}, fmt.Errorf("ingest batch: %w", err)
	}

	for _, change := range result.Changes {
		s.logger.Info().
			Time("ts", change.Timestamp).
			Str("old_total", change.Old.String()).
			Str("new_total", change.New.String()).
			Msg("price changed")
	}
	s.logger.Info().
		Int("records", result.Records).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("changed", len(result.Changes)).
		Int("windows", result.Windows).
		Time("earliest", result.Earliest).
		Time("latest", result.Latest).
		Msg("batch ingested")
	return result, nil
}

// normalizeBatch validates, deduplicates (last occurrence wins), and sorts.
func normalizeBatch(records []pricing.PriceRecord) ([]pricing.PriceRecord, error) {
	byTS := make(map[int64]pricing.PriceRecord, len(records))
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.Tier = pricing.TierOkay
		rec.WindowMedian = decimal.Zero
		byTS[rec.Timestamp.Unix()] = rec
	}

	batch := make([]pricing.PriceRecord, 0, len(byTS))
	for _, rec := range byTS {
		batch = append(batch, rec)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Timestamp.Before(batch[j].Timestamp) })
	return batch, nil
}

// RunCycle is the scheduled job: fetch, ingest, prune.
func (s *Service) RunCycle(ctx context.Context, scheduled time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Info().Time("scheduled", scheduled).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if _, err := s.FetchAndIngest(ctx, scheduled); err != nil {
		return err
	}

	if deleted, err := s.PruneExpired(ctx); err != nil {
		s.logger.Error().Err(err).Msg("retention failed, retrying next cycle")
	} else if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Msg("expired records pruned")
	}
	return nil
}

// FetchAndIngest downloads the prices for day and ingests them, recording
// the outcome as an ingest run.
func (s *Service) FetchAndIngest(ctx context.Context, day time.Time) (IngestResult, error) {
	if s.feed == nil {
		return IngestResult{}, fmt.Errorf("price feed not configured")
	}

	run := storage.NewIngestRun(s.now())
	result, err := s.fetchAndIngest(ctx, day)
	run.FinishedAt = s.now().UTC()
	run.Records = result.Records
	if err != nil {
		msg := err.Error()
		run.Status = storage.IngestStatusFailed
		run.Error = &msg
	} else {
		run.Status = storage.IngestStatusSuccess
	}

	if recErr := s.store.RecordIngestRun(ctx, run); recErr != nil {
		s.logger.Error().Err(recErr).Msg("failed to record ingest run")
	}
	s.emit(ctx, run, result)

	if err != nil {
		s.alert(ctx, alerting.Notification{
			Kind:       alerting.KindIngestFailed,
			OccurredAt: run.FinishedAt,
			Summary:    fmt.Sprintf("Fetch for %s failed", day.In(s.loc).Format("2006-01-02")),
			Err:        err,
		})
		return result, err
	}
	return result, nil
}

func (s *Service) fetchAndIngest(ctx context.Context, day time.Time) (IngestResult, error) {
	records, err := s.feed.FetchPrices(ctx, day)
	if err != nil {
		return IngestResult{}, fmt.Errorf("fetch prices: %w", err)
	}
	if len(records) == 0 {
		return IngestResult{}, fmt.Errorf("fetch prices: %w", pricing.ErrNoData)
	}
	return s.Ingest(ctx, records)
}

func (s *Service) emit(ctx context.Context, run storage.IngestRun, result IngestResult) {
	ev := cache.IngestEvent{
		RunID:      run.ID.String(),
		Status:     run.Status,
		Records:    run.Records,
		FinishedAt: run.FinishedAt,
		Earliest:   result.Earliest,
		Latest:     result.Latest,
	}
	if run.Error != nil {
		ev.Error = *run.Error
	}

	if s.tracker != nil {
		if err := s.tracker.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish ingest event")
		}
	}

	s.mu.RLock()
	listeners := append([]func(cache.IngestEvent){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (s *Service) alert(ctx context.Context, note alerting.Notification) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("kind", string(note.Kind)).Msg("failed to dispatch alert")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// GetCheapestHour returns the cheapest hour starting at or after now and,
// when within is positive, before now+within.
func (s *Service) GetCheapestHour(ctx context.Context, within time.Duration) (pricing.PriceRecord, error) {
	q := optimizer.Query{Now: s.now(), Within: within}
	series, err := s.load(ctx, q)
	if err != nil {
		return pricing.PriceRecord{}, err
	}
	return optimizer.CheapestHour(series, q)
}

// GetCheapestSequenceStart returns the cheapest gap-free block of duration
// hours that starts at or after now and ends by now+within.
func (s *Service) GetCheapestSequenceStart(ctx context.Context, duration int, within time.Duration) (optimizer.Sequence, error) {
	if duration < 1 {
		return optimizer.Sequence{}, fmt.Errorf("%w: duration must be at least 1 hour, got %d", pricing.ErrInvalidParameter, duration)
	}
	q := optimizer.Query{Now: s.now(), Within: within}
	series, err := s.load(ctx, q)
	if err != nil {
		return optimizer.Sequence{}, err
	}
	return optimizer.CheapestSequence(series, duration, q)
}

func (s *Service) load(ctx context.Context, q optimizer.Query) ([]pricing.PriceRecord, error) {
	if q.Within < 0 {
		return nil, fmt.Errorf("%w: lookahead must not be negative, got %s", pricing.ErrInvalidParameter, q.Within)
	}
	var to time.Time
	if q.Within > 0 {
		to = q.Now.Add(q.Within)
	}
	series, err := s.store.ListRange(ctx, q.Now, to)
	if err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	return series, nil
}

// HealthReport extends the freshness grade with store diagnostics.
type HealthReport struct {
	health.Report
	StoreReachable bool
	StoreError     string
	FutureHours    int
	CoveredUntil   *time.Time
	CheckedAt      time.Time
}

// GetHealth grades data freshness and probes the store.
func (s *Service) GetHealth(ctx context.Context) HealthReport {
	now := s.now()
	report := HealthReport{CheckedAt: now.UTC()}

	if err := s.store.Ping(ctx); err != nil {
		report.StoreError = err.Error()
	} else {
		report.StoreReachable = true
	}

	last, err := s.lastFetch(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not determine last fetch")
	}
	report.Report = health.Assess(last, now)

	if report.StoreReachable {
		future, err := s.store.ListRange(ctx, now.Truncate(time.Hour), time.Time{})
		if err != nil {
			s.logger.Warn().Err(err).Msg("could not load future coverage")
		} else if len(future) > 0 {
			report.FutureHours = len(future)
			until := future[len(future)-1].End()
			report.CoveredUntil = &until
		}
	}
	return report
}

func (s *Service) lastFetch(ctx context.Context) (time.Time, error) {
	if s.tracker != nil {
		last, err := s.tracker.LastIngest(ctx)
		if err == nil && !last.IsZero() {
			return last, nil
		}
		if err != nil {
			s.logger.Debug().Err(err).Msg("tracker unavailable, falling back to store")
		}
	}
	return s.store.LastSuccessfulIngest(ctx)
}

// CheckFreshness alerts when data has not been refreshed for StaleAfter.
func (s *Service) CheckFreshness(ctx context.Context) health.Report {
	now := s.now()
	last, err := s.lastFetch(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not determine last fetch")
	}
	report := health.Assess(last, now)
	if report.Status == health.StatusUnknown || report.DataAge >= s.staleAfter {
		s.alert(ctx, alerting.Notification{
			Kind:       alerting.KindStaleData,
			OccurredAt: now,
			Summary:    fmt.Sprintf("Status: %s", report.Status),
			LastFetch:  report.LastFetch,
			DataAge:    report.DataAge,
		})
	}
	return report
}

// WatchFreshness runs CheckFreshness every interval until ctx ends.
func (s *Service) WatchFreshness(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report := s.CheckFreshness(ctx)
			s.logger.Debug().Str("status", string(report.Status)).Dur("age", report.DataAge).Msg("freshness checked")
		}
	}
}

// Prune deletes records older than olderThan. The cutoff never passes now.
func (s *Service) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	cutoff := pricing.Clamp(olderThan, s.now())
	deleted, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune before %s: %w", cutoff.UTC().Format(time.RFC3339), err)
	}
	s.logger.Debug().Time("cutoff", cutoff).Int64("deleted", deleted).Msg("prune finished")
	return deleted, nil
}

// PruneExpired applies the configured retention horizon.
func (s *Service) PruneExpired(ctx context.Context) (int64, error) {
	return s.Prune(ctx, s.retention.Cutoff(s.now()))
}

// Range lists stored records with from <= ts < to.
func (s *Service) Range(ctx context.Context, from, to time.Time) ([]pricing.PriceRecord, error) {
	if !to.IsZero() && !to.After(from) {
		return nil, fmt.Errorf("%w: range end %s is not after start %s", pricing.ErrInvalidParameter, to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	records, err := s.store.ListRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	return records, nil
}

// Upcoming lists the records of the current hour and the following ones.
func (s *Service) Upcoming(ctx context.Context, hours int) ([]pricing.PriceRecord, error) {
	if hours < 1 {
		return nil, fmt.Errorf("%w: hours must be at least 1, got %d", pricing.ErrInvalidParameter, hours)
	}
	from := s.now().Truncate(time.Hour)
	return s.Range(ctx, from, from.Add(time.Duration(hours)*time.Hour))
}

// RecentRuns lists the latest ingest runs, newest first.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]storage.IngestRun, error) {
	runs, err := s.store.ListRecentIngestRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list ingest runs: %w", err)
	}
	return runs, nil
}

// Now exposes the service clock for callers formatting relative times.
func (s *Service) Now() time.Time { return s.now() }

