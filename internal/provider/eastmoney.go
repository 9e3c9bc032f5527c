package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	quotePath = "/api/qt/stock/get"

	// fltt=2 asks the endpoint for plain decimal values instead of the
	// fixed-point integers it serves by default.
	quoteFields = "f43,f47,f57,f58,f86,f169,f170"
)

// EastmoneyOptions parameterise the Eastmoney client.
type EastmoneyOptions struct {
	BaseURL   string
	SearchURL string
	Timeout   time.Duration
	UserAgent string
}

// Eastmoney fetches A-share quotes from the Eastmoney push2 endpoints, the
// same upstream most retail dashboards poll.
type Eastmoney struct {
	opts      EastmoneyOptions
	logger    zerolog.Logger
	client    *http.Client
	baseURL   string
	searchURL string
}

// NewEastmoney constructs an Eastmoney client.
func NewEastmoney(opts EastmoneyOptions, logger zerolog.Logger) *Eastmoney {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://push2.eastmoney.com"
	}
	searchURL := strings.TrimRight(opts.SearchURL, "/")
	if searchURL == "" {
		searchURL = "https://searchapi.eastmoney.com"
	}

	return &Eastmoney{
		opts:      opts,
		logger:    logger.With().Str("component", "eastmoney").Logger(),
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		searchURL: searchURL,
	}
}

// FetchQuote retrieves the realtime quote for one symbol.
func (e *Eastmoney) FetchQuote(ctx context.Context, symbol string) (Quote, error) {
	payload, err := e.fetchStockGet(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	price, err := decimal.NewFromString(payload.Price.String())
	if err != nil {
		return Quote{}, fmt.Errorf("parse price for %s: %w", symbol, err)
	}
	changeAmount, err := decimal.NewFromString(payload.ChangeAmount.String())
	if err != nil {
		return Quote{}, fmt.Errorf("parse change amount for %s: %w", symbol, err)
	}
	changePercent, err := decimal.NewFromString(payload.ChangePercent.String())
	if err != nil {
		return Quote{}, fmt.Errorf("parse change percent for %s: %w", symbol, err)
	}

	observed := time.Now()
	if payload.Timestamp > 0 {
		observed = time.Unix(payload.Timestamp, 0)
	}

	return Quote{
		Symbol:        symbol,
		Price:         price,
		ChangeAmount:  changeAmount,
		ChangePercent: changePercent,
		Volume:        payload.Volume,
		ObservedAt:    observed,
	}, nil
}

// FetchInfo retrieves descriptive data for one symbol.
func (e *Eastmoney) FetchInfo(ctx context.Context, symbol string) (Info, error) {
	payload, err := e.fetchStockGet(ctx, symbol)
	if err != nil {
		return Info{}, err
	}

	return Info{
		Symbol:   symbol,
		Name:     payload.Name,
		Exchange: exchangeForSymbol(symbol),
	}, nil
}

// Search performs a keyword lookup against the suggest endpoint.
func (e *Eastmoney) Search(ctx context.Context, keyword string) ([]SearchResult, error) {
	if strings.TrimSpace(keyword) == "" {
		return nil, nil
	}

	query := url.Values{}
	query.Set("input", keyword)
	query.Set("type", "14")
	query.Set("count", "20")

	endpoint := e.searchURL + "/api/suggest/get?" + query.Encode()
	body, err := e.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var res searchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]SearchResult, 0, len(res.QuotationCodeTable.Data))
	for _, row := range res.QuotationCodeTable.Data {
		if row.Code == "" {
			continue
		}
		results = append(results, SearchResult{Symbol: row.Code, Name: row.Name})
	}
	return results, nil
}

func (e *Eastmoney) fetchStockGet(ctx context.Context, symbol string) (*stockGetData, error) {
	query := url.Values{}
	query.Set("secid", secIDForSymbol(symbol))
	query.Set("fields", quoteFields)
	query.Set("invt", "2")
	query.Set("fltt", "2")

	endpoint := e.baseURL + quotePath + "?" + query.Encode()
	body, err := e.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var res stockGetResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}
	if res.Data == nil || res.Data.Code == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	return res.Data, nil
}

func (e *Eastmoney) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(e.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "stockwatch/1.0")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("eastmoney error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	return payload, nil
}

// secIDForSymbol maps a bare symbol to the venue-prefixed id the push2 API
// expects: 1.<code> for Shanghai listings, 0.<code> for Shenzhen.
func secIDForSymbol(symbol string) string {
	if strings.HasPrefix(symbol, "6") {
		return "1." + symbol
	}
	return "0." + symbol
}

func exchangeForSymbol(symbol string) string {
	if strings.HasPrefix(symbol, "6") {
		return "SSE"
	}
	return "SZSE"
}

type stockGetResponse struct {
	Data *stockGetData `json:"data"`
}

type stockGetData struct {
	Price         json.Number `json:"f43"`
	Volume        int64       `json:"f47"`
	Code          string      `json:"f57"`
	Name          string      `json:"f58"`
	Timestamp     int64       `json:"f86"`
	ChangeAmount  json.Number `json:"f169"`
	ChangePercent json.Number `json:"f170"`
}

type searchResponse struct {
	QuotationCodeTable struct {
		Data []struct {
			Code string `json:"Code"`
			Name string `json:"Name"`
		} `json:"Data"`
	} `json:"QuotationCodeTable"`
}

var _ QuoteProvider = (*Eastmoney)(nil)
