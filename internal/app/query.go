package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aboutPJS/price-api/internal/alerting"
	"github.com/aboutPJS/price-api/internal/httpapi"
	"github.com/aboutPJS/price-api/internal/service"
)

// CheapestOptions configure the cheapest commands. Duration zero asks for a
// single hour.
type CheapestOptions struct {
	Duration    int
	WithinHours int
}

// Cheapest prints the cheapest hour or block start.
func (a *App) Cheapest(ctx context.Context, opts CheapestOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	within := time.Duration(opts.WithinHours) * time.Hour
	now := rt.svc.Now()

	if opts.Duration == 0 {
		rec, err := rt.svc.GetCheapestHour(ctx, within)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "cheapest hour: %s (in %s), total %s, tier %s\n",
			rec.Timestamp.In(rt.loc).Format("2006-01-02 15:04 MST"),
			httpapi.TimeUntil(rec.Timestamp, now, httpapi.FormatHours),
			formatDecimal(rec.TotalPrice, 4),
			rec.Tier,
		)
		return nil
	}

	seq, err := rt.svc.GetCheapestSequenceStart(ctx, opts.Duration, within)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "cheapest %dh block: %s to %s (in %s), total %s, average %s\n",
		opts.Duration,
		seq.Start.In(rt.loc).Format("2006-01-02 15:04 MST"),
		seq.End().In(rt.loc).Format("15:04 MST"),
		httpapi.TimeUntil(seq.Start, now, httpapi.FormatHours),
		formatDecimal(seq.Total, 4),
		formatDecimal(seq.Average(), 4),
	)
	return nil
}

// Health prints the data freshness report.
func (a *App) Health(ctx context.Context) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	report := rt.svc.GetHealth(ctx)
	printHealth(os.Stdout, report)
	return nil
}

func printHealth(out io.Writer, report service.HealthReport) {
	fmt.Fprintf(out, "status:       %s\n", report.Status)
	fmt.Fprintf(out, "healthy:      %t\n", report.Status.Healthy() && report.StoreReachable)
	if report.LastFetch != nil {
		fmt.Fprintf(out, "last fetch:   %s (%s ago)\n", report.LastFetch.UTC().Format(time.RFC3339), report.DataAge.Round(time.Minute))
	} else {
		fmt.Fprintln(out, "last fetch:   never")
	}
	fmt.Fprintf(out, "future hours: %d\n", report.FutureHours)
	if report.CoveredUntil != nil {
		fmt.Fprintf(out, "covered until: %s\n", report.CoveredUntil.UTC().Format(time.RFC3339))
	}
	if report.StoreError != "" {
		fmt.Fprintf(out, "store error:  %s\n", report.StoreError)
	}
}

// Prune deletes records older than olderThan, or the retention cutoff when nil.
func (a *App) Prune(ctx context.Context, olderThan *time.Time) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	var deleted int64
	if olderThan != nil {
		deleted, err = rt.svc.Prune(ctx, *olderThan)
	} else {
		deleted, err = rt.svc.PruneExpired(ctx)
	}
	if err != nil {
		return err
	}
	a.Logger.Info().Int64("deleted", deleted).Msg("prune finished")
	fmt.Fprintf(os.Stdout, "deleted %d records\n", deleted)
	return nil
}

// SimulateAlert sends a sample notification through the configured channel.
func (a *App) SimulateAlert(ctx context.Context, kind alerting.Kind) error {
	if !a.Config.Alerting.Enabled {
		return fmt.Errorf("alerting is not enabled")
	}
	notifier := a.newNotifier()
	if notifier == nil {
		return fmt.Errorf("no alert channel configured")
	}

	last := time.Now().Add(-26 * time.Hour)
	note := alerting.Notification{
		Kind:       kind,
		OccurredAt: time.Now(),
		Summary:    "Simulated alert",
	}
	switch kind {
	case alerting.KindStaleData:
		note.LastFetch = &last
		note.DataAge = 26 * time.Hour
	case alerting.KindIngestFailed:
		note.Err = fmt.Errorf("simulated feed failure")
	default:
		return fmt.Errorf("unknown alert kind %q", kind)
	}
	return notifier.Notify(ctx, note)
}
