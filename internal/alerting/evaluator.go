package alerting

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatch/internal/config"
	"stockwatch/internal/storage"
)

// SessionClock supplies the re-arm boundary for session-scoped cooldowns.
type SessionClock interface {
	SessionStart(now time.Time) time.Time
}

// Options tune the evaluator.
type Options struct {
	ThresholdPct decimal.Decimal
	CooldownMode string
	Cooldown     time.Duration
}

// Evaluator detects threshold crossings on incoming snapshots. It is the only
// component that creates alert records. A triggered symbol+direction pair is
// suppressed until the cooldown re-arms: at the next market open in session
// mode, or after a fixed window in window mode.
type Evaluator struct {
	opts   Options
	clock  SessionClock
	logger zerolog.Logger

	mu            sync.Mutex
	lastTriggered map[string]time.Time
}

// New constructs an Evaluator.
func New(opts Options, clock SessionClock, logger zerolog.Logger) *Evaluator {
	if opts.CooldownMode == "" {
		opts.CooldownMode = config.CooldownSession
	}
	return &Evaluator{
		opts:          opts,
		clock:         clock,
		logger:        logger.With().Str("component", "evaluator").Logger(),
		lastTriggered: make(map[string]time.Time),
	}
}

// Seed installs persisted trigger times so a restart mid-session does not
// re-raise alerts the previous process already emitted.
func (e *Evaluator) Seed(lastTriggered map[string]time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, ts := range lastTriggered {
		e.lastTriggered[key] = ts
	}
}

// Evaluate inspects one accepted snapshot and returns the alert to persist,
// or nil when the movement is under threshold or suppressed by cooldown.
func (e *Evaluator) Evaluate(snap storage.Snapshot) *storage.Alert {
	if e.opts.ThresholdPct.IsZero() {
		return nil
	}

	magnitude := snap.ChangePercent.Abs()
	if magnitude.LessThan(e.opts.ThresholdPct) {
		return nil
	}

	direction := storage.DirectionLoss
	if snap.ChangePercent.Sign() > 0 {
		direction = storage.DirectionGain
	}

	key := storage.AlertKey(snap.Symbol, direction)

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastTriggered[key]; ok && e.suppressed(last, snap.ObservedAt) {
		e.logger.Debug().
			Str("symbol", snap.Symbol).
			Str("direction", direction).
			Time("last_triggered", last).
			Msg("alert suppressed by cooldown")
		return nil
	}

	e.lastTriggered[key] = snap.ObservedAt

	return &storage.Alert{
		Symbol:       snap.Symbol,
		Direction:    direction,
		MagnitudePct: magnitude,
		ThresholdPct: e.opts.ThresholdPct,
		TriggeredAt:  snap.ObservedAt,
	}
}

func (e *Evaluator) suppressed(last, now time.Time) bool {
	if e.opts.CooldownMode == config.CooldownWindow {
		return now.Sub(last) < e.opts.Cooldown
	}
	if e.clock == nil {
		return false
	}
	// Session mode: one alert per symbol+direction per trading session.
	return !last.Before(e.clock.SessionStart(now))
}
