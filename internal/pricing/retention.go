package pricing

import "time"

// DefaultRetentionDays is used when no retention horizon is configured.
const DefaultRetentionDays = 30

// RetentionPolicy decides which historical records may be deleted.
type RetentionPolicy struct {
	Horizon time.Duration
}

// NewRetentionPolicy builds a policy keeping the given number of days.
func NewRetentionPolicy(days int) RetentionPolicy {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	return RetentionPolicy{Horizon: time.Duration(days) * 24 * time.Hour}
}

// Cutoff returns the instant before which records are pruned.
func (p RetentionPolicy) Cutoff(now time.Time) time.Time {
	return Clamp(now.Add(-p.Horizon), now)
}

// Clamp limits a caller supplied cutoff so that no record at or after now,
// the earliest instant any query looks at, is ever deleted.
func Clamp(olderThan, now time.Time) time.Time {
	if olderThan.After(now) {
		return now
	}
	return olderThan
}
