package httpapi

import (
	"fmt"
	"time"
)

const (
	FormatHours   = "hours"
	FormatMinutes = "minutes"
)

// TimeUntil renders the wait until start as "HH:MM" or as whole minutes.
// Starts at or before now render as zero.
func TimeUntil(start, now time.Time, format string) any {
	minutes := 0
	if diff := start.Sub(now); diff > 0 {
		minutes = int(diff / time.Minute)
	}
	if format == FormatMinutes {
		return minutes
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
