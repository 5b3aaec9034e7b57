package optimizer

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aboutPJS/price-api/internal/pricing"
)

var base = time.Date(2025, 8, 7, 10, 0, 0, 0, time.UTC)

func at(hour int) time.Time {
	return base.Add(time.Duration(hour-10) * time.Hour)
}

func series(start time.Time, prices ...int64) []pricing.PriceRecord {
	out := make([]pricing.PriceRecord, len(prices))
	for i, p := range prices {
		out[i] = pricing.PriceRecord{
			Timestamp:  start.Add(time.Duration(i) * time.Hour),
			TotalPrice: decimal.NewFromInt(p),
		}
	}
	return out
}

func scenario() []pricing.PriceRecord {
	return series(base, 5, 5, 5, 2, 2, 2, 8, 8, 8, 5, 5, 5)
}

func without(records []pricing.PriceRecord, ts time.Time) []pricing.PriceRecord {
	out := make([]pricing.PriceRecord, 0, len(records))
	for _, rec := range records {
		if !rec.Timestamp.Equal(ts) {
			out = append(out, rec)
		}
	}
	return out
}

func TestCheapestSequenceScenario(t *testing.T) {
	seq, err := CheapestSequence(scenario(), 3, Query{Now: at(10), Within: 12 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, at(13), seq.Start)
	assert.True(t, seq.Total.Equal(decimal.NewFromInt(6)), "total %s", seq.Total)
	assert.True(t, seq.Average().Equal(decimal.NewFromInt(2)))
	assert.Equal(t, at(16), seq.End())
	require.Len(t, seq.Hours, 3)
}

func TestCheapestHourTieBreaksEarliest(t *testing.T) {
	rec, err := CheapestHour(scenario(), Query{Now: at(10), Within: 3 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, at(10), rec.Timestamp, "first of the tied 5s")

	// [10:00, 14:00) reaches the first 2 at 13:00
	rec, err = CheapestHour(scenario(), Query{Now: at(10), Within: 4 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, at(13), rec.Timestamp)

	rec, err = CheapestHour(scenario(), Query{Now: at(10)})
	require.NoError(t, err)
	assert.Equal(t, at(13), rec.Timestamp)
}

func TestCheapestHourNoData(t *testing.T) {
	_, err := CheapestHour(scenario(), Query{Now: at(22)})
	assert.True(t, errors.Is(err, pricing.ErrNoData), "got %v", err)

	_, err = CheapestHour(nil, Query{Now: at(10), Within: time.Hour})
	assert.True(t, errors.Is(err, pricing.ErrNoData))
}

func TestCheapestSequenceWindowTooShort(t *testing.T) {
	_, err := CheapestSequence(scenario(), 3, Query{Now: at(10), Within: 2 * time.Hour})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pricing.ErrNoSequenceFound))
	assert.False(t, errors.Is(err, pricing.ErrDataGap))
}

func TestCheapestSequenceSkipsGap(t *testing.T) {
	gapped := without(scenario(), at(15))

	seq, err := CheapestSequence(gapped, 3, Query{Now: at(10), Within: 12 * time.Hour})
	require.NoError(t, err)
	// 13:00-15:00 and 14:00-16:00 cross the gap; 12:00 (5+2+2) is next best
	assert.Equal(t, at(12), seq.Start)
	assert.True(t, seq.Total.Equal(decimal.NewFromInt(9)))
	for i, rec := range seq.Hours {
		assert.Equal(t, seq.Start.Add(time.Duration(i)*time.Hour), rec.Timestamp)
	}
}

func TestCheapestSequenceAllGapped(t *testing.T) {
	var sparse []pricing.PriceRecord
	for i, rec := range scenario() {
		if i%2 == 0 {
			sparse = append(sparse, rec)
		}
	}

	_, err := CheapestSequence(sparse, 2, Query{Now: at(10)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, pricing.ErrNoSequenceFound))
	assert.True(t, errors.Is(err, pricing.ErrDataGap))
}

func TestCheapestSequenceNeverStartsInPast(t *testing.T) {
	seq, err := CheapestSequence(scenario(), 3, Query{Now: at(14)})
	require.NoError(t, err)
	assert.Equal(t, at(14), seq.Start, "2+2+8 beats the trailing 5s")
	assert.True(t, seq.Total.Equal(decimal.NewFromInt(12)))

	seq, err = CheapestSequence(scenario(), 3, Query{Now: at(15)})
	require.NoError(t, err)
	assert.Equal(t, at(19), seq.Start)

	seq, err = CheapestSequence(scenario(), 3, Query{Now: at(12).Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, at(13), seq.Start)
}

func TestCheapestSequenceWholeBlockInsideHorizon(t *testing.T) {
	// cheap tail outside the horizon must not pull the answer
	records := series(base, 9, 9, 9, 9, 1, 1)

	seq, err := CheapestSequence(records, 2, Query{Now: at(10), Within: 5 * time.Hour})
	require.NoError(t, err)
	// 14:00-15:00 would end past the horizon
	assert.Equal(t, at(13), seq.Start)
	assert.False(t, seq.Hours[1].Timestamp.After(at(10).Add(5*time.Hour)))

	seq, err = CheapestSequence(records, 2, Query{Now: at(10), Within: 6 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, at(14), seq.Start)
}

func TestCheapestSequenceDurationOneMatchesCheapestHour(t *testing.T) {
	q := Query{Now: at(11), Within: 6 * time.Hour}
	seq, err := CheapestSequence(scenario(), 1, q)
	require.NoError(t, err)
	rec, err := CheapestHour(scenario(), q)
	require.NoError(t, err)
	assert.Equal(t, rec.Timestamp, seq.Start)
}

func TestInvalidParameters(t *testing.T) {
	_, err := CheapestSequence(scenario(), 0, Query{Now: at(10)})
	assert.True(t, errors.Is(err, pricing.ErrInvalidParameter))

	_, err = CheapestSequence(scenario(), 2, Query{Now: at(10), Within: -time.Hour})
	assert.True(t, errors.Is(err, pricing.ErrInvalidParameter))

	_, err = CheapestHour(scenario(), Query{Now: at(10), Within: -time.Hour})
	assert.True(t, errors.Is(err, pricing.ErrInvalidParameter))
}

func TestUnorderedInput(t *testing.T) {
	records := scenario()
	shuffled := make([]pricing.PriceRecord, len(records))
	copy(shuffled, records)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	seq, err := CheapestSequence(shuffled, 3, Query{Now: at(10), Within: 12 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, at(13), seq.Start)
}

func TestFuture(t *testing.T) {
	got := Future(scenario(), Query{Now: at(12), Within: 3 * time.Hour})
	require.Len(t, got, 3)
	assert.Equal(t, at(12), got[0].Timestamp)
	assert.Equal(t, at(14), got[2].Timestamp)

	assert.Len(t, Future(scenario(), Query{Now: at(12)}), 10)
	assert.Empty(t, Future(scenario(), Query{Now: at(30)}))
}

// bruteForce enumerates every start explicitly.
func bruteForce(records []pricing.PriceRecord, duration int, q Query) (time.Time, bool) {
	byTime := map[time.Time]decimal.Decimal{}
	for _, rec := range records {
		byTime[rec.Timestamp] = rec.TotalPrice
	}

	var bestStart time.Time
	var bestSum decimal.Decimal
	found := false
	for _, rec := range records {
		start := rec.Timestamp
		if start.Before(q.Now) {
			continue
		}
		last := start.Add(time.Duration(duration-1) * time.Hour)
		if q.Within > 0 && !last.Before(q.Now.Add(q.Within)) {
			continue
		}
		sum := decimal.Zero
		complete := true
		for h := 0; h < duration; h++ {
			price, ok := byTime[start.Add(time.Duration(h)*time.Hour)]
			if !ok {
				complete = false
				break
			}
			sum = sum.Add(price)
		}
		if !complete {
			continue
		}
		if !found || sum.LessThan(bestSum) || (sum.Equal(bestSum) && start.Before(bestStart)) {
			bestStart, bestSum, found = start, sum, true
		}
	}
	return bestStart, found
}

func TestCheapestSequenceMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 300; iter++ {
		var records []pricing.PriceRecord
		for h := 0; h < 60; h++ {
			if rng.Intn(10) == 0 {
				continue
			}
			records = append(records, pricing.PriceRecord{
				Timestamp:  base.Add(time.Duration(h) * time.Hour),
				TotalPrice: decimal.NewFromInt(int64(rng.Intn(6))),
			})
		}

		duration := 1 + rng.Intn(6)
		q := Query{Now: base.Add(time.Duration(rng.Intn(20)) * time.Hour)}
		if rng.Intn(2) == 0 {
			q.Within = time.Duration(1+rng.Intn(40)) * time.Hour
		}

		want, ok := bruteForce(records, duration, q)
		seq, err := CheapestSequence(records, duration, q)
		if !ok {
			assert.True(t, errors.Is(err, pricing.ErrNoSequenceFound), "iter %d: expected no sequence, got %v", iter, err)
			continue
		}
		require.NoError(t, err, "iter %d", iter)
		assert.Equal(t, want, seq.Start, "iter %d", iter)
		assert.False(t, seq.Start.Before(q.Now))
		if q.Within > 0 {
			assert.False(t, seq.Hours[duration-1].Timestamp.After(q.Now.Add(q.Within)))
		}
	}
}
