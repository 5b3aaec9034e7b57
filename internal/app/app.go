package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aboutPJS/price-api/internal/alerting"
	"github.com/aboutPJS/price-api/internal/cache"
	"github.com/aboutPJS/price-api/internal/config"
	"github.com/aboutPJS/price-api/internal/fetcher"
	"github.com/aboutPJS/price-api/internal/httpapi"
	"github.com/aboutPJS/price-api/internal/pricing"
	"github.com/aboutPJS/price-api/internal/scheduler"
	"github.com/aboutPJS/price-api/internal/service"
	"github.com/aboutPJS/price-api/internal/storage"
	"github.com/aboutPJS/price-api/internal/version"
)

const (
	freshnessInterval = time.Hour
	shutdownTimeout   = 10 * time.Second
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime bundles what a command opened; close releases it.
type runtime struct {
	svc     *service.Service
	store   storage.Backend
	tracker *cache.RedisTracker
	loc     *time.Location
}

func (r *runtime) close() {
	if r.tracker != nil {
		_ = r.tracker.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
}

func (a *App) location() *time.Location {
	loc, err := a.Config.Scheduler.Location()
	if err != nil {
		return time.UTC
	}
	return loc
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	db := a.Config.Database
	switch db.Driver {
	case config.DriverPostgres:
		pool, err := storage.NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		store := storage.NewPostgresStore(pool, db.IngestLockKey)
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case config.DriverSQLite:
		return storage.NewSQLiteStore(ctx, db.SQLitePath)
	case config.DriverMemory:
		a.Logger.Warn().Msg("memory store selected; prices are lost on exit")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

func (a *App) openTracker(ctx context.Context) (*cache.RedisTracker, error) {
	cfg := a.Config.Redis
	if !cfg.Enabled {
		return nil, nil
	}
	rdb, err := cache.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return cache.NewRedisTracker(rdb, cfg.KeyPrefix, cfg.Channel, a.Logger), nil
}

func (a *App) newFeed(loc *time.Location) fetcher.PriceFeed {
	cfg := a.Config.Feed
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.Get().UserAgent()
	}
	return fetcher.NewAndel(fetcher.AndelOptions{
		BaseURL:   cfg.BaseURL,
		Region:    cfg.Region,
		Tax:       cfg.Tax,
		ProductID: cfg.ProductID,
		Timeout:   cfg.RequestTimeout,
		UserAgent: userAgent,
		Location:  loc,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled || !a.Config.Alerting.Telegram.Enabled {
		return nil
	}
	cfg := a.Config.Alerting.Telegram
	telegram := alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	return alerting.NewThrottled(telegram, a.Config.Alerting.Cooldown, a.Logger)
}

// open wires store, tracker, feed and notifier into a service.
func (a *App) open(ctx context.Context) (*runtime, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	rt := &runtime{store: store, loc: a.location()}
	tracker, err := a.openTracker(ctx)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("redis unavailable; continuing without shared ingest state")
	}

	var shared service.Tracker
	if tracker != nil {
		rt.tracker = tracker
		shared = tracker
	}

	rt.svc = service.New(store, a.newFeed(rt.loc), shared, a.newNotifier(), service.Options{
		Location:   rt.loc,
		Retention:  pricing.NewRetentionPolicy(a.Config.Retention.Days),
		LockKey:    a.Config.Scheduler.AdvisoryLockKey,
		StaleAfter: a.Config.Alerting.StaleAfter,
	}, a.Logger)
	return rt, nil
}

// Run executes the scheduler and the HTTP API until interrupted.
func (a *App) Run(ctx context.Context) error {
	return a.serve(ctx, true)
}

// Serve runs only the HTTP API.
func (a *App) Serve(ctx context.Context) error {
	return a.serve(ctx, false)
}

func (a *App) serve(ctx context.Context, withScheduler bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	var sched *scheduler.Scheduler
	if withScheduler {
		sched, err = a.newScheduler(rt.loc)
		if err != nil {
			return err
		}
	}

	hub := httpapi.NewHub(a.Logger)
	api := httpapi.NewServer(rt.svc, hub, httpapi.Limits{
		MaxWithinHours: a.Config.HTTP.MaxWithinHours,
		MaxDuration:    a.Config.HTTP.MaxDuration,
	}, rt.loc, a.Logger)

	srv := &http.Server{
		Addr:         a.Config.HTTP.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  a.Config.HTTP.ReadTimeout,
		WriteTimeout: a.Config.HTTP.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if rt.tracker != nil {
		events := rt.tracker.Subscribe(gctx)
		g.Go(func() error {
			for ev := range events {
				hub.Broadcast(ev)
			}
			return nil
		})
	} else {
		rt.svc.OnIngest(hub.Broadcast)
	}

	g.Go(func() error {
		a.Logger.Info().Str("addr", srv.Addr).Msg("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if sched != nil {
		g.Go(func() error {
			a.Logger.Info().Msg("starting daily price scheduler")
			return sched.Run(gctx, rt.svc.RunCycle)
		})
		if a.Config.Alerting.Enabled {
			g.Go(func() error {
				return rt.svc.WatchFreshness(gctx, freshnessInterval)
			})
		}
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price api stopped")
	return nil
}

func (a *App) newScheduler(loc *time.Location) (*scheduler.Scheduler, error) {
	hour, minute, err := a.Config.Scheduler.ClockTime()
	if err != nil {
		return nil, err
	}
	return scheduler.New(scheduler.Options{
		Hour:         hour,
		Minute:       minute,
		Location:     loc,
		RetryDelay:   a.Config.Scheduler.RetryDelay,
		MaxRetries:   a.Config.Scheduler.MaxRetries,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)
}

// Fetch runs a single ingest cycle for day.
func (a *App) Fetch(ctx context.Context, day time.Time) error {
	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	return rt.svc.RunCycle(ctx, day)
}

// ExportOptions hold parameters for exporting stored prices.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	Tiers     []pricing.Tier
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Hours int
	Runs  int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From   time.Time
	To     time.Time
	DryRun bool
}
