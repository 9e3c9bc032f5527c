package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"stockwatch/internal/config"
	"stockwatch/internal/provider"
	"stockwatch/internal/registry"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/storage"
)

// MarketClock is the calendar capability the service schedules against.
type MarketClock interface {
	IsOpen(now time.Time) bool
	PollInterval(now time.Time) time.Duration
	SessionStart(now time.Time) time.Time
	NextOpen(now time.Time) time.Time
}

// AlertEvaluator detects threshold crossings on accepted snapshots.
type AlertEvaluator interface {
	Evaluate(snap storage.Snapshot) *storage.Alert
}

// Stats is the operator-facing health summary.
type Stats struct {
	MonitoredCount    int            `json:"monitored_count"`
	RecentAlertCount  int64          `json:"recent_alert_count"`
	SchedulerRunning  bool           `json:"scheduler_running"`
	ProviderReachable bool           `json:"provider_reachable"`
	LastUpdateTime    time.Time      `json:"last_update_time"`
	MarketOpen        bool           `json:"market_open"`
	NextOpen          time.Time      `json:"next_open"`
	FetchFailures     map[string]int `json:"fetch_failures,omitempty"`
}

// Service orchestrates polling, persistence, alert evaluation, and the
// query surface consumed by the HTTP layer.
type Service struct {
	cfg       *config.Config
	clock     MarketClock
	registry  *registry.Registry
	provider  provider.QuoteProvider
	symbols   storage.SymbolStore
	snapshots storage.SnapshotStore
	history   storage.HistoryStore
	alerts    storage.AlertStore
	evaluator AlertEvaluator
	sched     *scheduler.Scheduler
	logger    zerolog.Logger

	mu         sync.RWMutex
	running    bool
	reachable  bool
	lastUpdate time.Time
	failures   map[string]int
}

// New constructs the monitoring service.
func New(
	cfg *config.Config,
	clock MarketClock,
	reg *registry.Registry,
	quotes provider.QuoteProvider,
	symbols storage.SymbolStore,
	snapshots storage.SnapshotStore,
	history storage.HistoryStore,
	alerts storage.AlertStore,
	evaluator AlertEvaluator,
	sched *scheduler.Scheduler,
	logger zerolog.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		clock:     clock,
		registry:  reg,
		provider:  quotes,
		symbols:   symbols,
		snapshots: snapshots,
		history:   history,
		alerts:    alerts,
		evaluator: evaluator,
		sched:     sched,
		logger:    logger.With().Str("component", "service").Logger(),
		failures:  make(map[string]int),
	}
}

// Run blocks, driving the poll loop, the daily purge, and the periodic
// symbol-info refresh until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}

	s.setRunning(true)
	defer s.setRunning(false)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.sched.Run(ctx, s.Cycle)
	})
	g.Go(func() error {
		return s.sched.RunDaily(ctx, s.cfg.Retention.PurgeHour, s.marketLocation(), s.Purge)
	})
	if s.cfg.Scheduler.InfoRefreshInterval > 0 {
		g.Go(func() error {
			return s.infoRefreshLoop(ctx)
		})
	}

	return g.Wait()
}

// Cycle runs one pass over the current symbol list: bounded-parallel fetch,
// write-through, alert evaluation. Errors are contained per symbol.
func (s *Service) Cycle(ctx context.Context, now time.Time) error {
	codes := s.registry.List()
	if len(codes) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Scheduler.MaxConcurrentFetch)

	for _, code := range codes {
		code := code
		g.Go(func() error {
			s.pollSymbol(ctx, code)
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) pollSymbol(ctx context.Context, code string) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.Scheduler.FetchTimeout)
	defer cancel()

	quote, err := s.provider.FetchQuote(fetchCtx, code)
	if err != nil {
		count := s.noteFetchFailure(code)
		// The symbol stays monitored no matter how often the fetch fails;
		// only an explicit unregister removes it.
		s.logger.Warn().Err(err).
			Str("symbol", code).
			Int("consecutive_failures", count).
			Msg("quote fetch failed")
		return
	}
	s.noteFetchSuccess(code)

	snap := storage.Snapshot{
		Symbol:        code,
		Price:         quote.Price,
		ChangeAmount:  quote.ChangeAmount,
		ChangePercent: quote.ChangePercent,
		Volume:        quote.Volume,
		ObservedAt:    quote.ObservedAt,
	}

	accepted, err := s.snapshots.RecordQuote(ctx, snap)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", code).Msg("failed to persist snapshot")
		return
	}
	if !accepted {
		s.logger.Debug().
			Str("symbol", code).
			Time("observed_at", quote.ObservedAt).
			Msg("dropped stale quote")
		return
	}

	s.noteUpdate(quote.ObservedAt)

	if s.evaluator == nil {
		return
	}
	alert := s.evaluator.Evaluate(snap)
	if alert == nil {
		return
	}

	if _, err := s.alerts.InsertAlert(ctx, *alert); err != nil {
		s.logger.Error().Err(err).Str("symbol", code).Msg("failed to persist alert")
		return
	}
	s.logger.Info().
		Str("symbol", alert.Symbol).
		Str("direction", alert.Direction).
		Str("magnitude_pct", alert.MagnitudePct.String()).
		Msg("price alert triggered")
}

// Purge applies the retention policy: history older than the configured
// window and alerts older than theirs, deleted in short batches.
func (s *Service) Purge(ctx context.Context, now time.Time) error {
	historyCutoff := now.AddDate(0, 0, -s.cfg.Retention.HistoryDays)
	alertCutoff := now.AddDate(0, 0, -s.cfg.Retention.AlertDays)
	batch := s.cfg.Retention.PurgeBatchSize

	removedHistory, err := s.history.PurgeHistoryBefore(ctx, historyCutoff, batch)
	if err != nil {
		return fmt.Errorf("purge history: %w", err)
	}
	removedAlerts, err := s.alerts.PurgeAlertsBefore(ctx, alertCutoff, batch)
	if err != nil {
		return fmt.Errorf("purge alerts: %w", err)
	}

	s.logger.Info().
		Int64("history_removed", removedHistory).
		Int64("alerts_removed", removedAlerts).
		Msg("retention purge completed")
	return nil
}

func (s *Service) infoRefreshLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Scheduler.InfoRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refreshInfo(ctx)
		}
	}
}

func (s *Service) refreshInfo(ctx context.Context) {
	for _, code := range s.registry.List() {
		if ctx.Err() != nil {
			return
		}
		s.resolveInfo(ctx, code)
	}
}

func (s *Service) resolveInfo(ctx context.Context, code string) {
	infoCtx, cancel := context.WithTimeout(ctx, s.cfg.Provider.RequestTimeout)
	defer cancel()

	info, err := s.provider.FetchInfo(infoCtx, code)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", code).Msg("symbol info fetch failed")
		return
	}
	if err := s.symbols.UpsertSymbol(ctx, storage.Symbol{
		Code:     info.Symbol,
		Name:     info.Name,
		Exchange: info.Exchange,
	}); err != nil {
		s.logger.Error().Err(err).Str("symbol", code).Msg("failed to persist symbol info")
	}
}

// Register adds a symbol to the watch set and persists it. Symbol metadata is
// resolved asynchronously; resolution failure does not fail the add.
func (s *Service) Register(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("symbol code is required")
	}

	if err := s.registry.Add(code); err != nil {
		return err
	}
	if err := s.symbols.UpsertSymbol(ctx, storage.Symbol{Code: code}); err != nil {
		// Roll the in-memory add back so membership matches storage.
		_ = s.registry.Remove(code)
		return fmt.Errorf("persist symbol: %w", err)
	}

	go s.resolveInfo(context.WithoutCancel(ctx), code)

	s.logger.Info().Str("symbol", code).Msg("symbol registered")
	return nil
}

// Unregister removes a symbol from the watch set. Snapshot and history rows
// are retained.
func (s *Service) Unregister(ctx context.Context, code string) error {
	if err := s.registry.Remove(code); err != nil {
		return err
	}
	if err := s.symbols.DeleteSymbol(ctx, code); err != nil {
		return fmt.Errorf("delete symbol: %w", err)
	}
	s.logger.Info().Str("symbol", code).Msg("symbol unregistered")
	return nil
}

// Monitored returns the active symbol codes in registration order.
func (s *Service) Monitored() []string {
	return s.registry.List()
}

// Snapshots returns the latest snapshot of every registered symbol.
func (s *Service) Snapshots(ctx context.Context) ([]storage.Snapshot, error) {
	return s.snapshots.ListSnapshots(ctx)
}

// Snapshot returns the latest snapshot for one symbol.
func (s *Service) Snapshot(ctx context.Context, code string) (storage.Snapshot, error) {
	return s.snapshots.GetSnapshot(ctx, code)
}

// History returns up to limit history points, newest first.
func (s *Service) History(ctx context.Context, code string, limit int) ([]storage.HistoryPoint, error) {
	return s.history.ListHistory(ctx, code, limit)
}

// Alerts returns the most recent alerts.
func (s *Service) Alerts(ctx context.Context, limit int) ([]storage.Alert, error) {
	return s.alerts.ListRecentAlerts(ctx, limit)
}

// Search proxies a keyword lookup to the market-data provider.
func (s *Service) Search(ctx context.Context, keyword string) ([]provider.SearchResult, error) {
	return s.provider.Search(ctx, keyword)
}

// Stats assembles the health summary. Query failures degrade individual
// fields rather than failing the call.
func (s *Service) Stats(ctx context.Context) Stats {
	now := time.Now()

	s.mu.RLock()
	stats := Stats{
		MonitoredCount:    s.registry.Len(),
		SchedulerRunning:  s.running,
		ProviderReachable: s.reachable,
		LastUpdateTime:    s.lastUpdate,
		MarketOpen:        s.clock.IsOpen(now),
		NextOpen:          s.clock.NextOpen(now),
	}
	if len(s.failures) > 0 {
		stats.FetchFailures = make(map[string]int, len(s.failures))
		for code, count := range s.failures {
			stats.FetchFailures[code] = count
		}
	}
	s.mu.RUnlock()

	if count, err := s.alerts.CountAlertsSince(ctx, now.Add(-24*time.Hour)); err == nil {
		stats.RecentAlertCount = count
	}
	return stats
}

// Restore reconstitutes the registry from persisted symbol rows, seeding the
// configured default watchlist on first run, and installs persisted alert
// trigger times into the evaluator.
func (s *Service) Restore(ctx context.Context) error {
	rows, err := s.symbols.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("list symbols: %w", err)
	}

	if len(rows) == 0 && len(s.cfg.Watchlist.Symbols) > 0 {
		s.logger.Info().
			Int("count", len(s.cfg.Watchlist.Symbols)).
			Msg("empty symbol table; seeding default watchlist")
		for _, code := range s.cfg.Watchlist.Symbols {
			if err := s.Register(ctx, code); err != nil && !errors.Is(err, registry.ErrAlreadyExists) {
				s.logger.Warn().Err(err).Str("symbol", code).Msg("failed to seed symbol")
			}
		}
	} else {
		codes := make([]string, 0, len(rows))
		for _, row := range rows {
			codes = append(codes, row.Code)
		}
		s.registry.Seed(codes)
	}

	if seeder, ok := s.evaluator.(interface{ Seed(map[string]time.Time) }); ok {
		triggers, err := s.alerts.LatestAlertTimes(ctx)
		if err != nil {
			return fmt.Errorf("load alert trigger times: %w", err)
		}
		seeder.Seed(triggers)
	}
	return nil
}

func (s *Service) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *Service) noteUpdate(at time.Time) {
	s.mu.Lock()
	if at.After(s.lastUpdate) {
		s.lastUpdate = at
	}
	s.mu.Unlock()
}

func (s *Service) noteFetchFailure(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[code]++
	s.reachable = false
	return s.failures[code]
}

func (s *Service) noteFetchSuccess(code string) {
	s.mu.Lock()
	delete(s.failures, code)
	s.reachable = true
	s.mu.Unlock()
}

func (s *Service) marketLocation() *time.Location {
	return s.cfg.MarketLocation()
}
