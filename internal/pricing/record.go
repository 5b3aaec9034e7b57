package pricing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is the relative price level of an hour within its 48-hour window.
type Tier string

const (
	TierPrefer Tier = "PREFER"
	TierOkay   Tier = "OKAY"
	TierAvoid  Tier = "AVOID"
)

// ParseTier converts a stored tier value. Empty input maps to TierOkay, the
// tier a record carries until its first classification pass.
func ParseTier(v string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(v))) {
	case TierPrefer:
		return TierPrefer, nil
	case TierOkay, "":
		return TierOkay, nil
	case TierAvoid:
		return TierAvoid, nil
	default:
		return "", fmt.Errorf("unknown tier %q", v)
	}
}

// PriceRecord is one hour of the price series.
type PriceRecord struct {
	Timestamp       time.Time
	SpotPrice       decimal.Decimal
	TransportAndTax decimal.Decimal
	TotalPrice      decimal.Decimal
	WindowMedian    decimal.Decimal
	Tier            Tier
}

// End returns the exclusive end of the hour the record covers.
func (r PriceRecord) End() time.Time {
	return r.Timestamp.Add(time.Hour)
}

// Validate checks the ingestion contract: hour-aligned timestamp and
// non-negative transport and total prices. Spot prices may be negative.
func (r PriceRecord) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidRecord)
	}
	if !r.Timestamp.Equal(r.Timestamp.Truncate(time.Hour)) {
		return fmt.Errorf("%w: timestamp %s is not hour aligned", ErrInvalidRecord, r.Timestamp.Format(time.RFC3339))
	}
	if r.TransportAndTax.IsNegative() {
		return fmt.Errorf("%w: transport and tax %s is negative at %s", ErrInvalidRecord, r.TransportAndTax, r.Timestamp.Format(time.RFC3339))
	}
	if r.TotalPrice.IsNegative() {
		return fmt.Errorf("%w: total price %s is negative at %s", ErrInvalidRecord, r.TotalPrice, r.Timestamp.Format(time.RFC3339))
	}
	return nil
}
