package provider

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one realtime observation for a symbol. ChangePercent is computed
// by the venue against the prior-day close, not against our last sample.
type Quote struct {
	Symbol        string
	Price         decimal.Decimal
	ChangeAmount  decimal.Decimal
	ChangePercent decimal.Decimal
	Volume        int64
	ObservedAt    time.Time
}

// Info is the slow-moving descriptive data for a symbol.
type Info struct {
	Symbol   string
	Name     string
	Exchange string
}

// SearchResult is one hit from a keyword lookup.
type SearchResult struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Fetch error taxonomy. Timeouts and transport failures surface as the
// underlying context/net errors.
var (
	ErrNotFound    = errors.New("provider: symbol not found")
	ErrRateLimited = errors.New("provider: rate limited")
)

// QuoteProvider is the upstream market-data capability. Implementations are
// expected to be rate-limited and occasionally unavailable; callers bound
// every call with a context deadline.
type QuoteProvider interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
	FetchInfo(ctx context.Context, symbol string) (Info, error)
	Search(ctx context.Context, keyword string) ([]SearchResult, error)
}
