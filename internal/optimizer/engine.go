// Package optimizer answers cheapest-hour and cheapest-block questions over
// an hourly price series. It holds no state: every answer is a function of
// the series handed in and the injected query instant.
package optimizer

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aboutPJS/price-api/internal/pricing"
)

// Query bounds a search. Within is the lookahead horizon; zero means every
// available future record is considered.
type Query struct {
	Now    time.Time
	Within time.Duration
}

func (q Query) validate() error {
	if q.Within < 0 {
		return fmt.Errorf("%w: lookahead must not be negative, got %s", pricing.ErrInvalidParameter, q.Within)
	}
	return nil
}

// Sequence is a gap-free block of consecutive hours.
type Sequence struct {
	Start time.Time
	Hours []pricing.PriceRecord
	Total decimal.Decimal
}

// End returns the exclusive end of the block.
func (s Sequence) End() time.Time {
	return s.Start.Add(time.Duration(len(s.Hours)) * time.Hour)
}

// Average returns the mean total price of the block.
func (s Sequence) Average() decimal.Decimal {
	if len(s.Hours) == 0 {
		return decimal.Zero
	}
	return s.Total.Div(decimal.NewFromInt(int64(len(s.Hours))))
}

// Future returns the records with Now <= ts < Now+Within (or unbounded
// above when Within is zero), ordered by timestamp.
func Future(series []pricing.PriceRecord, q Query) []pricing.PriceRecord {
	ordered := ensureOrdered(series)

	from := sort.Search(len(ordered), func(i int) bool {
		return !ordered[i].Timestamp.Before(q.Now)
	})
	to := len(ordered)
	if q.Within > 0 {
		end := q.Now.Add(q.Within)
		to = sort.Search(len(ordered), func(i int) bool {
			return !ordered[i].Timestamp.Before(end)
		})
	}
	if from >= to {
		return nil
	}
	return ordered[from:to]
}

// CheapestHour returns the future record with the lowest total price.
// Ties resolve to the earliest hour.
func CheapestHour(series []pricing.PriceRecord, q Query) (pricing.PriceRecord, error) {
	if err := q.validate(); err != nil {
		return pricing.PriceRecord{}, err
	}

	candidates := Future(series, q)
	if len(candidates) == 0 {
		return pricing.PriceRecord{}, fmt.Errorf("%w: no hours at or after %s", pricing.ErrNoData, q.Now.UTC().Format(time.RFC3339))
	}

	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].TotalPrice.LessThan(candidates[best].TotalPrice) {
			best = i
		}
	}
	return candidates[best], nil
}

// CheapestSequence returns the gap-free block of duration hours with the
// lowest summed total price. A block qualifies only when its first hour is
// at or after Now and its last hour starts before Now+Within. Ties resolve
// to the earliest start.
func CheapestSequence(series []pricing.PriceRecord, duration int, q Query) (Sequence, error) {
	if duration < 1 {
		return Sequence{}, fmt.Errorf("%w: duration must be at least 1 hour, got %d", pricing.ErrInvalidParameter, duration)
	}
	if err := q.validate(); err != nil {
		return Sequence{}, err
	}

	candidates := Future(series, q)

	var (
		best     = -1
		bestSum  decimal.Decimal
		sum      decimal.Decimal
		runStart int
		gapped   bool
	)
	for i := range candidates {
		if i > 0 && !candidates[i].Timestamp.Equal(candidates[i-1].End()) {
			runStart = i
			sum = decimal.Zero
			gapped = true
		}

		sum = sum.Add(candidates[i].TotalPrice)
		length := i - runStart + 1
		if length > duration {
			sum = sum.Sub(candidates[i-duration].TotalPrice)
			length = duration
		}
		if length == duration && (best < 0 || sum.LessThan(bestSum)) {
			best = i - duration + 1
			bestSum = sum
		}
	}

	if best < 0 {
		if gapped && len(candidates) >= duration {
			return Sequence{}, fmt.Errorf("%w: no complete %d-hour block: %w", pricing.ErrNoSequenceFound, duration, pricing.ErrDataGap)
		}
		return Sequence{}, fmt.Errorf("%w: %d hours available, %d-hour block requested", pricing.ErrNoSequenceFound, len(candidates), duration)
	}

	hours := make([]pricing.PriceRecord, duration)
	copy(hours, candidates[best:best+duration])
	return Sequence{
		Start: hours[0].Timestamp,
		Hours: hours,
		Total: bestSum,
	}, nil
}

func ensureOrdered(series []pricing.PriceRecord) []pricing.PriceRecord {
	less := func(s []pricing.PriceRecord) func(i, j int) bool {
		return func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) }
	}
	if sort.SliceIsSorted(series, less(series)) {
		return series
	}
	ordered := make([]pricing.PriceRecord, len(series))
	copy(ordered, series)
	sort.SliceStable(ordered, less(ordered))
	return ordered
}
