package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol is a tracked instrument. Code is immutable once created; the
// descriptive fields refresh from the provider.
type Symbol struct {
	Code      string
	Name      string
	Exchange  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is the single current-state row for a symbol, replaced on each
// accepted fetch. ChangePercent is relative to the prior-day close.
type Snapshot struct {
	Symbol        string
	Name          string
	Price         decimal.Decimal
	ChangeAmount  decimal.Decimal
	ChangePercent decimal.Decimal
	Volume        int64
	ObservedAt    time.Time
	UpdatedAt     time.Time
}

// HistoryPoint is one immutable time-series sample.
type HistoryPoint struct {
	ID         int64
	Symbol     string
	Price      decimal.Decimal
	Volume     int64
	RecordedAt time.Time
}

// Alert directions.
const (
	DirectionGain = "gain"
	DirectionLoss = "loss"
)

// Alert records a detected threshold crossing.
type Alert struct {
	ID           int64
	Symbol       string
	Direction    string
	MagnitudePct decimal.Decimal
	ThresholdPct decimal.Decimal
	TriggeredAt  time.Time
}
