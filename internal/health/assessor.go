// Package health grades how current the stored price data is.
package health

import "time"

// Status is the data freshness grade.
type Status string

const (
	StatusFresh      Status = "fresh"
	StatusAcceptable Status = "acceptable"
	StatusStale      Status = "stale"
	StatusUnknown    Status = "unknown"
)

const (
	FreshWithin      = 3 * time.Hour
	AcceptableWithin = 25 * time.Hour
)

// Report is the outcome of an assessment.
type Report struct {
	Status    Status
	LastFetch *time.Time
	DataAge   time.Duration
}

// Assess grades the last successful ingestion relative to now. A zero
// lastFetch means no ingestion has been recorded.
func Assess(lastFetch, now time.Time) Report {
	if lastFetch.IsZero() {
		return Report{Status: StatusUnknown}
	}

	age := now.Sub(lastFetch)
	if age < 0 {
		age = 0
	}

	last := lastFetch
	report := Report{LastFetch: &last, DataAge: age}
	switch {
	case age < FreshWithin:
		report.Status = StatusFresh
	case age < AcceptableWithin:
		report.Status = StatusAcceptable
	default:
		report.Status = StatusStale
	}
	return report
}

// Healthy reports whether the status is good enough to serve queries
// without warning.
func (s Status) Healthy() bool {
	return s == StatusFresh || s == StatusAcceptable
}
