package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/aboutPJS/price-api/internal/pricing"
)

// Export renders stored prices as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	now := rt.svc.Now().UTC()
	from := now.Add(-pricing.NewRetentionPolicy(a.Config.Retention.Days).Horizon)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	var to time.Time
	if opts.To != nil {
		to = opts.To.UTC()
	}

	records, err := rt.svc.Range(ctx, from, to)
	if err != nil {
		return err
	}
	records = filterTiers(records, opts.Tiers)
	if len(records) == 0 {
		a.Logger.Info().Msg("no prices found for export window")
		return nil
	}

	downsampled := downsample(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting prices")

	if opts.CSVPath != "" {
		if err := writePricesCSV(opts.CSVPath, downsampled, rt.loc); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writePricesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// filterTiers keeps records in any of tiers; no tiers keeps everything.
func filterTiers(records []pricing.PriceRecord, tiers []pricing.Tier) []pricing.PriceRecord {
	if len(tiers) == 0 {
		return records
	}
	keep := make(map[pricing.Tier]bool, len(tiers))
	for _, tier := range tiers {
		keep[tier] = true
	}
	out := make([]pricing.PriceRecord, 0, len(records))
	for _, rec := range records {
		if keep[rec.Tier] {
			out = append(out, rec)
		}
	}
	return out
}

func downsample(records []pricing.PriceRecord, max int) []pricing.PriceRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[:1]
	}

	result := make([]pricing.PriceRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writePricesCSV(path string, records []pricing.PriceRecord, loc *time.Location) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"start_time", "spot_price", "transport_and_tax", "total_price", "window_median", "tier"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range records {
		row := []string{
			rec.Timestamp.In(loc).Format(time.RFC3339),
			rec.SpotPrice.String(),
			rec.TransportAndTax.String(),
			rec.TotalPrice.String(),
			rec.WindowMedian.String(),
			string(rec.Tier),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writePricesPNG(path string, records []pricing.PriceRecord) error {
	if len(records) < 2 {
		return errors.New("at least two data points are required to render a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	total := make([]float64, len(records))
	median := make([]float64, len(records))
	for i, rec := range records {
		x[i] = rec.Timestamp
		total[i] = rec.TotalPrice.InexactFloat64()
		median[i] = rec.WindowMedian.InexactFloat64()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeHourValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (DKK/kWh)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Total price",
				XValues: x,
				YValues: total,
			},
			chart.TimeSeries{
				Name:    "48h window median",
				XValues: x,
				YValues: median,
				Style: chart.Style{
					StrokeDashArray: []float64{5, 5},
				},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
