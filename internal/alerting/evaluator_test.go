package alerting

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatch/internal/config"
	"stockwatch/internal/marketclock"
	"stockwatch/internal/storage"
)

var cst = time.FixedZone("CST", 8*3600)

func tradingTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", value, cst)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return parsed
}

func sessionEvaluator(threshold float64) *Evaluator {
	clock := marketclock.New(marketclock.Options{Location: cst})
	return New(Options{
		ThresholdPct: decimal.NewFromFloat(threshold),
		CooldownMode: config.CooldownSession,
	}, clock, zerolog.Nop())
}

func snapshotAt(symbol string, changePct float64, observed time.Time) storage.Snapshot {
	return storage.Snapshot{
		Symbol:        symbol,
		Price:         decimal.NewFromInt(100),
		ChangePercent: decimal.NewFromFloat(changePct),
		ObservedAt:    observed,
	}
}

func TestUnderThresholdNoAlert(t *testing.T) {
	e := sessionEvaluator(5.0)
	if alert := e.Evaluate(snapshotAt("600519", 1.0, tradingTime(t, "2024-06-04 10:00:00"))); alert != nil {
		t.Fatalf("unexpected alert: %+v", alert)
	}
}

func TestLossDirectionAndMagnitude(t *testing.T) {
	e := sessionEvaluator(5.0)
	alert := e.Evaluate(snapshotAt("000001", -6.2, tradingTime(t, "2024-06-04 10:00:00")))
	if alert == nil {
		t.Fatal("expected an alert")
	}
	if alert.Direction != storage.DirectionLoss {
		t.Fatalf("direction = %s", alert.Direction)
	}
	if !alert.MagnitudePct.Equal(decimal.NewFromFloat(6.2)) {
		t.Fatalf("magnitude = %s", alert.MagnitudePct)
	}
}

func TestCooldownWithinSession(t *testing.T) {
	e := sessionEvaluator(5.0)

	// 6.0 -> 6.5 -> 7.0 within one session must yield exactly one alert.
	times := []string{"2024-06-04 10:00:00", "2024-06-04 10:05:00", "2024-06-04 10:10:00"}
	changes := []float64{6.0, 6.5, 7.0}

	alerts := 0
	for i, ts := range times {
		if alert := e.Evaluate(snapshotAt("600519", changes[i], tradingTime(t, ts))); alert != nil {
			alerts++
		}
	}
	if alerts != 1 {
		t.Fatalf("alerts = %d, want 1", alerts)
	}
}

func TestCooldownRearmsNextSession(t *testing.T) {
	e := sessionEvaluator(5.0)

	if alert := e.Evaluate(snapshotAt("600519", 6.0, tradingTime(t, "2024-06-04 10:00:00"))); alert == nil {
		t.Fatal("morning session alert expected")
	}
	// Still above threshold in the afternoon session: the market re-opened at
	// 13:00, so the pair is re-armed.
	if alert := e.Evaluate(snapshotAt("600519", 6.1, tradingTime(t, "2024-06-04 13:30:00"))); alert == nil {
		t.Fatal("afternoon session alert expected after re-arm")
	}
}

func TestOppositeDirectionNotSuppressed(t *testing.T) {
	e := sessionEvaluator(5.0)

	if alert := e.Evaluate(snapshotAt("600519", 6.0, tradingTime(t, "2024-06-04 10:00:00"))); alert == nil {
		t.Fatal("gain alert expected")
	}
	if alert := e.Evaluate(snapshotAt("600519", -5.5, tradingTime(t, "2024-06-04 10:20:00"))); alert == nil {
		t.Fatal("loss alert expected; cooldown is per direction")
	}
}

func TestSeedSuppressesAfterRestart(t *testing.T) {
	e := sessionEvaluator(5.0)
	e.Seed(map[string]time.Time{
		storage.AlertKey("600519", storage.DirectionGain): tradingTime(t, "2024-06-04 09:45:00"),
	})

	if alert := e.Evaluate(snapshotAt("600519", 6.0, tradingTime(t, "2024-06-04 10:00:00"))); alert != nil {
		t.Fatalf("seeded trigger should suppress: %+v", alert)
	}
}

func TestWindowMode(t *testing.T) {
	e := New(Options{
		ThresholdPct: decimal.NewFromFloat(5.0),
		CooldownMode: config.CooldownWindow,
		Cooldown:     30 * time.Minute,
	}, nil, zerolog.Nop())

	base := tradingTime(t, "2024-06-04 10:00:00")
	if alert := e.Evaluate(snapshotAt("000001", 5.5, base)); alert == nil {
		t.Fatal("first alert expected")
	}
	if alert := e.Evaluate(snapshotAt("000001", 5.6, base.Add(10*time.Minute))); alert != nil {
		t.Fatal("inside window should suppress")
	}
	if alert := e.Evaluate(snapshotAt("000001", 5.7, base.Add(31*time.Minute))); alert == nil {
		t.Fatal("past window should re-arm")
	}
}

func TestZeroThresholdDisablesAlerts(t *testing.T) {
	e := sessionEvaluator(0)
	if alert := e.Evaluate(snapshotAt("600519", 99.0, tradingTime(t, "2024-06-04 10:00:00"))); alert != nil {
		t.Fatal("zero threshold disables alerting")
	}
}
