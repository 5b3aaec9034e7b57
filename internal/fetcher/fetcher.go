package fetcher

import (
	"context"
	"time"

	"github.com/aboutPJS/price-api/internal/pricing"
)

// PriceFeed retrieves hourly prices for the two days starting at day.
type PriceFeed interface {
	FetchPrices(ctx context.Context, day time.Time) ([]pricing.PriceRecord, error)
}
