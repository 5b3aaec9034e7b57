package app

import (
	"context"
	"errors"
	"time"
)

// backfillStep matches the two days every export covers.
const backfillStep = 2

// Backfill ingests every local day in [From, To).
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	start := startOfDay(opts.From, rt.loc)
	end := opts.To.In(rt.loc)
	if !start.Before(end) {
		return errors.New("backfill range is empty, check --from/--to")
	}

	feed := a.newFeed(rt.loc)
	processed, failed, records := 0, 0, 0
	for day := start; day.Before(end); day = day.AddDate(0, 0, backfillStep) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if opts.DryRun {
			fetched, err := feed.FetchPrices(ctx, day)
			if err != nil {
				failed++
				a.Logger.Error().Err(err).Time("day", day).Msg("backfill fetch failed")
				continue
			}
			a.Logger.Info().Time("day", day).Int("records", len(fetched)).Msg("dry run: fetched without storing")
			processed++
			records += len(fetched)
			continue
		}

		res, err := rt.svc.FetchAndIngest(ctx, day)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Time("day", day).Msg("backfill failed")
			continue
		}
		processed++
		records += res.Records
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Int("records", records).Msg("backfill finished")
	if failed > 0 {
		return errors.New("some days failed to backfill, check the logs")
	}
	return nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
