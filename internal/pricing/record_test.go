package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPriceRecordValidate(t *testing.T) {
	ts := time.Date(2025, 8, 7, 23, 0, 0, 0, time.UTC)
	valid := PriceRecord{
		Timestamp:       ts,
		SpotPrice:       decimal.RequireFromString("1.09"),
		TransportAndTax: decimal.RequireFromString("1.25"),
		TotalPrice:      decimal.RequireFromString("2.34"),
	}
	assert.NoError(t, valid.Validate())

	negativeSpot := valid
	negativeSpot.SpotPrice = decimal.RequireFromString("-0.05")
	negativeSpot.TotalPrice = decimal.RequireFromString("1.20")
	assert.NoError(t, negativeSpot.Validate())

	cases := map[string]func(r *PriceRecord){
		"zero timestamp": func(r *PriceRecord) { r.Timestamp = time.Time{} },
		"unaligned":      func(r *PriceRecord) { r.Timestamp = ts.Add(30 * time.Minute) },
		"negative tax":   func(r *PriceRecord) { r.TransportAndTax = decimal.RequireFromString("-1") },
		"negative total": func(r *PriceRecord) { r.TotalPrice = decimal.RequireFromString("-0.75") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rec := valid
			mutate(&rec)
			err := rec.Validate()
			assert.True(t, errors.Is(err, ErrInvalidRecord), "got %v", err)
		})
	}
}

func TestParseTier(t *testing.T) {
	for in, want := range map[string]Tier{"PREFER": TierPrefer, "okay": TierOkay, " AVOID ": TierAvoid, "": TierOkay} {
		got, err := ParseTier(in)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTier("CHEAP")
	assert.Error(t, err)
}

func TestRetentionPolicy(t *testing.T) {
	now := time.Date(2025, 8, 7, 12, 0, 0, 0, time.UTC)

	p := NewRetentionPolicy(30)
	assert.Equal(t, now.Add(-30*24*time.Hour), p.Cutoff(now))

	assert.Equal(t, NewRetentionPolicy(DefaultRetentionDays), NewRetentionPolicy(0))

	future := now.Add(5 * time.Hour)
	assert.Equal(t, now, Clamp(future, now), "cutoffs never reach into the future")
	assert.Equal(t, now.Add(-time.Hour), Clamp(now.Add(-time.Hour), now))
}
