package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func decimals(values ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.RequireFromString(v)
	}
	return out
}

func TestPercentileMedian(t *testing.T) {
	tests := []struct {
		name   string
		sample []decimal.Decimal
		want   string
	}{
		{"odd length", decimals("1", "2", "3", "4", "5"), "3"},
		{"even length interpolates", decimals("1", "2", "3", "4"), "2.5"},
		{"two values", decimals("1.2", "2.4"), "1.8"},
		{"repeated values", decimals("5", "5", "5"), "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sample, 50)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestPercentileEdgeCases(t *testing.T) {
	assert.True(t, Percentile(nil, 50).IsZero(), "empty sample must yield zero")

	single := decimals("2.34")
	for _, p := range []float64{0, 33.333, 50, 66.667, 100} {
		assert.True(t, Percentile(single, p).Equal(single[0]), "p=%v", p)
	}

	sample := decimals("1", "2", "3")
	assert.True(t, Percentile(sample, 0).Equal(decimal.NewFromInt(1)))
	assert.True(t, Percentile(sample, 100).Equal(decimal.NewFromInt(3)))
	assert.True(t, Percentile(sample, -10).Equal(decimal.NewFromInt(1)))
	assert.True(t, Percentile(sample, 150).Equal(decimal.NewFromInt(3)))
}

func TestPercentileInterpolation(t *testing.T) {
	// rank = 0.33333 * 3 = 0.99999 between 10 and 20
	sample := decimals("10", "20", "30", "40")
	got := Percentile(sample, LowerPercentile)
	assert.True(t, got.Equal(decimal.RequireFromString("19.9999")), "got %s", got)

	// rank = 0.66667 * 3 = 2.00001 between 30 and 40
	got = Percentile(sample, UpperPercentile)
	assert.True(t, got.Equal(decimal.RequireFromString("30.0001")), "got %s", got)
}
