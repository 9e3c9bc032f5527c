package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"stockwatch/internal/alerting"
	"stockwatch/internal/config"
	"stockwatch/internal/marketclock"
	"stockwatch/internal/provider"
	"stockwatch/internal/registry"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/server"
	"stockwatch/internal/service"
	"stockwatch/internal/storage"
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

func (a *App) newProvider() *provider.Eastmoney {
	return provider.NewEastmoney(provider.EastmoneyOptions{
		BaseURL:   a.Config.Provider.BaseURL,
		SearchURL: a.Config.Provider.SearchURL,
		Timeout:   a.Config.Provider.RequestTimeout,
		UserAgent: a.Config.Provider.UserAgent,
	}, a.Logger)
}

func (a *App) newClock() *marketclock.Clock {
	return marketclock.New(marketclock.Options{
		Location:       a.Config.MarketLocation(),
		OpenInterval:   a.Config.Scheduler.PollIntervalOpen,
		ClosedInterval: a.Config.Scheduler.PollIntervalClosed,
	})
}

func (a *App) newEvaluator(clock *marketclock.Clock) *alerting.Evaluator {
	return alerting.New(alerting.Options{
		ThresholdPct: decimal.NewFromFloat(a.Config.Alerting.ThresholdPct),
		CooldownMode: a.Config.Alerting.CooldownMode,
		Cooldown:     a.Config.Alerting.Cooldown,
	}, clock, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is required")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service together with the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	clock := a.newClock()
	evaluator := a.newEvaluator(clock)

	sched := scheduler.New(scheduler.Options{
		Interval:     clock.PollInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(
		a.Config,
		clock,
		registry.New(),
		a.newProvider(),
		store, store, store, store,
		evaluator,
		sched,
		a.Logger,
	)

	if err := svc.Restore(ctx); err != nil {
		return err
	}

	api := server.New(a.Config, svc, a.Logger)

	a.Logger.Info().Msg("starting monitoring service")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(ctx) })
	g.Go(func() error { return api.Run(ctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting a symbol's price history.
type ExportOptions struct {
	Symbol    string
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
