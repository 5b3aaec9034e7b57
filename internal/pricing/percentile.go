package pricing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Percentile returns the linearly interpolated value at percentile p of an
// ascending sample. An empty sample yields zero; p is clamped to [0, 100].
func Percentile(sorted []decimal.Decimal, p float64) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n == 1 || p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := decimal.NewFromFloat(p).Div(hundred).Mul(decimal.NewFromInt(int64(n - 1)))
	lower := rank.Floor()
	lo := int(lower.IntPart())
	hi := int(rank.Ceil().IntPart())
	if hi > n-1 {
		hi = n - 1
	}
	if lo == hi {
		return sorted[lo]
	}

	frac := rank.Sub(lower)
	return sorted[lo].Add(frac.Mul(sorted[hi].Sub(sorted[lo])))
}
