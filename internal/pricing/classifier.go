package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// WindowLength is the nominal span over which tertile boundaries are computed.
	WindowLength = 48 * time.Hour
	// WindowDays is the same span in local calendar days.
	WindowDays = 2

	LowerPercentile = 33.333
	UpperPercentile = 66.667
)

// Boundaries are the tertile cut points of one classification window.
type Boundaries struct {
	Lower   decimal.Decimal
	Upper   decimal.Decimal
	Median  decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
	Samples int
}

// ComputeBoundaries derives tertile boundaries from unsorted prices. The
// second return value is false when there is nothing to classify.
func ComputeBoundaries(prices []decimal.Decimal) (Boundaries, bool) {
	if len(prices) == 0 {
		return Boundaries{}, false
	}

	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	return Boundaries{
		Lower:   Percentile(sorted, LowerPercentile),
		Upper:   Percentile(sorted, UpperPercentile),
		Median:  Percentile(sorted, 50),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Samples: len(sorted),
	}, true
}

// TierFor assigns a tier. Prices equal to a boundary land on the cheaper side.
func (b Boundaries) TierFor(price decimal.Decimal) Tier {
	switch {
	case price.LessThanOrEqual(b.Lower):
		return TierPrefer
	case price.GreaterThanOrEqual(b.Upper):
		return TierAvoid
	default:
		return TierOkay
	}
}

// ClassifyWindow returns a copy of records with Tier and WindowMedian set
// from the boundaries of the whole set.
func ClassifyWindow(records []PriceRecord) ([]PriceRecord, Boundaries, bool) {
	prices := make([]decimal.Decimal, len(records))
	for i, rec := range records {
		prices[i] = rec.TotalPrice
	}

	bounds, ok := ComputeBoundaries(prices)
	if !ok {
		return nil, Boundaries{}, false
	}

	out := make([]PriceRecord, len(records))
	for i, rec := range records {
		rec.Tier = bounds.TierFor(rec.TotalPrice)
		rec.WindowMedian = bounds.Median
		out[i] = rec
	}
	return out, bounds, true
}

// Window is a half-open classification range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Windows returns the classification windows touched by a batch. They are
// anchored at local midnight of the earliest record and each spans two local
// calendar days, so a window holds 47, 48 or 49 hours around DST changes.
func Windows(records []PriceRecord, loc *time.Location) []Window {
	if len(records) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	earliest, latest := records[0].Timestamp, records[0].Timestamp
	for _, rec := range records[1:] {
		if rec.Timestamp.Before(earliest) {
			earliest = rec.Timestamp
		}
		if rec.Timestamp.After(latest) {
			latest = rec.Timestamp
		}
	}

	local := earliest.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var windows []Window
	for !start.After(latest) {
		end := start.AddDate(0, 0, WindowDays)
		windows = append(windows, Window{Start: start.UTC(), End: end.UTC()})
		start = end
	}
	return windows
}
