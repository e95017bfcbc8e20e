package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"flight-price-alerts/internal/alerting"
	"flight-price-alerts/internal/baseline"
	"flight-price-alerts/internal/config"
	"flight-price-alerts/internal/fetcher"
	"flight-price-alerts/internal/handoff"
	"flight-price-alerts/internal/logging"
	"flight-price-alerts/internal/metrics"
	"flight-price-alerts/internal/pipeline"
	"flight-price-alerts/internal/scheduler"
	"flight-price-alerts/internal/storage"
	"flight-price-alerts/internal/storage/clickhouse"
	"flight-price-alerts/internal/storage/elastic"
	"flight-price-alerts/internal/storage/memory"
	"flight-price-alerts/internal/storage/postgres"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// base is the untagged logger handed to components, which add their own tag.
	base zerolog.Logger
	// Out receives table and report output; defaults to stdout.
	Out io.Writer

	// storeFactory overrides driver selection in tests.
	storeFactory func(ctx context.Context) (storage.HistoryStore, error)
	// handoffOverride replaces the configured hand-off store in tests.
	handoffOverride handoff.Store
	now             func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logging.Component(logger, "app"),
		base:   logger,
		Out:    os.Stdout,
		now:    time.Now,
	}
}

func (a *App) newFetcher() fetcher.PriceFetcher {
	up := a.Config.Upstream
	return fetcher.NewSkyscanner(fetcher.SkyscannerOptions{
		URL:          up.URL,
		FromEntityID: up.FromEntityID,
		ExtraQuery:   up.ExtraQuery,
		APIKey:       up.APIKey,
		APIHost:      up.APIHost,
		Timeout:      up.Timeout,
		UserAgent:    up.UserAgent,
	}, a.base)
}

// openStore connects the historical store selected by store.driver.
func (a *App) openStore(ctx context.Context) (storage.HistoryStore, func(), error) {
	if a.storeFactory != nil {
		store, err := a.storeFactory(ctx)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	cfg := a.Config.Store
	var store storage.HistoryStore
	switch cfg.Driver {
	case config.DriverElasticsearch:
		client, err := elastic.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, nil, err
		}
		store = elastic.NewStore(client, cfg.Index, cfg.Elasticsearch)
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		pgStore, err := postgres.NewStore(pool, cfg.Index)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		store = pgStore
	case config.DriverClickHouse:
		conn, err := clickhouse.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, nil, err
		}
		chStore, err := clickhouse.NewStore(conn, cfg.Index)
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		store = chStore
	case config.DriverMemory:
		a.Logger.Warn().Msg("store.driver is memory; history is lost on exit")
		store = memory.NewStore()
	default:
		return nil, nil, fmt.Errorf("store.driver %q is not supported", cfg.Driver)
	}

	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close store")
		}
	}
	return store, closer, nil
}

func (a *App) openHandoff(ctx context.Context) (handoff.Store, error) {
	if a.handoffOverride != nil {
		return nopCloseStore{a.handoffOverride}, nil
	}
	switch a.Config.Handoff.Driver {
	case config.DriverRedis:
		return handoff.NewRedisStore(ctx, a.Config.Handoff.Redis, a.Config.Handoff.TTL)
	case config.DriverMemory, "":
		return handoff.NewMemoryStore(a.Config.Handoff.TTL), nil
	default:
		return nil, fmt.Errorf("handoff.driver %q is not supported", a.Config.Handoff.Driver)
	}
}

// nopCloseStore keeps an injected store open across commands.
type nopCloseStore struct {
	handoff.Store
}

func (nopCloseStore) Close() error { return nil }

// runtime holds the collaborators shared by Run and RunOnce.
type runtime struct {
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	close    func()
}

func (a *App) newRuntime(ctx context.Context) (*runtime, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	slots, err := a.openHandoff(ctx)
	if err != nil {
		closeStore()
		return nil, err
	}

	notifier, err := alerting.New(a.Config.Alerting, a.base)
	if err != nil {
		_ = slots.Close()
		closeStore()
		return nil, err
	}
	if notifier.Len() == 0 {
		a.Logger.Warn().Msg("no alert channels configured; alerts will only be logged")
	}

	m := metrics.New()
	notifier.OnResult(m.RecordNotification)

	p := pipeline.New(pipeline.Deps{
		Fetcher:  a.newFetcher(),
		Baseline: baseline.NewProvider(store, a.Config.Pipeline.MinCount, a.Config.Pipeline.MaxLocations, a.base),
		Indexer:  store,
		Notifier: notifier,
		Handoff:  slots,
		Metrics:  m,
	}, pipeline.Options{
		Retries:    a.Config.Pipeline.Retries,
		RetryDelay: a.Config.Pipeline.RetryDelay,
		Subject:    a.Config.Alerting.Subject,
	}, a.base)

	return &runtime{
		pipeline: p,
		metrics:  m,
		close: func() {
			if err := notifier.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close notifiers")
			}
			if err := slots.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("close hand-off store")
			}
			closeStore()
		},
	}, nil
}

// Run executes the long-running scheduler loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if addr := a.Config.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := rt.metrics.Serve(ctx, addr, a.Logger); err != nil {
				a.Logger.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToStart:  a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		MaxActiveRuns: a.Config.Scheduler.MaxActiveRuns,
		OnSkip: func(time.Time) {
			rt.metrics.SkippedTicks.Inc()
		},
	}, a.base)

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Int("max_active_runs", a.Config.Scheduler.MaxActiveRuns).
		Msg("starting flight price tracker")

	err = sched.Run(ctx, func(ctx context.Context, scheduledAt time.Time) error {
		_, err := rt.pipeline.Execute(ctx, scheduledAt)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("flight price tracker stopped")
	return nil
}

// RunOnce executes a single run immediately and prints its step summary.
func (a *App) RunOnce(ctx context.Context) (*pipeline.Run, error) {
	rt, err := a.newRuntime(ctx)
	if err != nil {
		return nil, err
	}
	defer rt.close()

	run, err := rt.pipeline.Execute(ctx, a.now())
	if run != nil {
		printRun(a.Out, run)
	}
	return run, err
}

// ExportOptions hold parameters for exporting stored observations.
type ExportOptions struct {
	Location  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions describe the synthetic candidate sent by simulate-alert.
type SimulateOptions struct {
	Location string
	Price    float64
	Average  float64
	DryRun   bool
}
