package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aboutPJS/price-api/internal/pricing"
	"github.com/aboutPJS/price-api/internal/storage"
)

// Show prints upcoming prices and recent ingest runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	records, err := rt.svc.Upcoming(ctx, opts.Hours)
	if err != nil {
		return err
	}
	printPrices(os.Stdout, records, rt.loc)

	if opts.Runs > 0 {
		runs, err := rt.svc.RecentRuns(ctx, opts.Runs)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout)
		printRuns(os.Stdout, runs)
	}
	return nil
}

func printPrices(out io.Writer, records []pricing.PriceRecord, loc *time.Location) {
	if len(records) == 0 {
		fmt.Fprintln(out, "no prices found")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Start (%s)\tSpot\tTransport+Tax\tTotal\tMedian\tTier\n", loc)
	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Timestamp.In(loc).Format("2006-01-02 15:04"),
			formatDecimal(rec.SpotPrice, 4),
			formatDecimal(rec.TransportAndTax, 4),
			formatDecimal(rec.TotalPrice, 4),
			formatDecimal(rec.WindowMedian, 4),
			rec.Tier,
		)
	}
	writer.Flush()
}

func printRuns(out io.Writer, runs []storage.IngestRun) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "no ingest runs recorded")
		return
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Finished (UTC)\tStatus\tRecords\tDuration\tError")
	for _, run := range runs {
		errMsg := ""
		if run.Error != nil {
			errMsg = sanitizeInline(*run.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\n",
			run.FinishedAt.UTC().Format(time.RFC3339),
			run.Status,
			run.Records,
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			errMsg,
		)
	}
	writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
