package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stockwatch/internal/config"
	"stockwatch/internal/provider"
	"stockwatch/internal/registry"
	"stockwatch/internal/service"
	"stockwatch/internal/storage"
)

type stubClock struct{}

func (stubClock) IsOpen(time.Time) bool                { return true }
func (stubClock) PollInterval(time.Time) time.Duration { return time.Second }
func (stubClock) SessionStart(now time.Time) time.Time { return now.Add(-time.Hour) }
func (stubClock) NextOpen(now time.Time) time.Time     { return now.Add(time.Hour) }

type stubProvider struct {
	results []provider.SearchResult
}

func (p *stubProvider) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	return provider.Quote{}, provider.ErrNotFound
}

func (p *stubProvider) FetchInfo(ctx context.Context, symbol string) (provider.Info, error) {
	return provider.Info{}, provider.ErrNotFound
}

func (p *stubProvider) Search(ctx context.Context, keyword string) ([]provider.SearchResult, error) {
	return p.results, nil
}

type stubStore struct {
	snapshots map[string]storage.Snapshot
	alerts    []storage.Alert
}

func newStubStore() *stubStore {
	return &stubStore{snapshots: make(map[string]storage.Snapshot)}
}

func (s *stubStore) UpsertSymbol(ctx context.Context, sym storage.Symbol) error { return nil }
func (s *stubStore) DeleteSymbol(ctx context.Context, code string) error        { return nil }
func (s *stubStore) ListSymbols(ctx context.Context) ([]storage.Symbol, error)  { return nil, nil }

func (s *stubStore) RecordQuote(ctx context.Context, snap storage.Snapshot) (bool, error) {
	s.snapshots[snap.Symbol] = snap
	return true, nil
}

func (s *stubStore) GetSnapshot(ctx context.Context, symbol string) (storage.Snapshot, error) {
	snap, ok := s.snapshots[symbol]
	if !ok {
		return storage.Snapshot{}, storage.ErrSnapshotNotFound
	}
	return snap, nil
}

func (s *stubStore) ListSnapshots(ctx context.Context) ([]storage.Snapshot, error) {
	out := make([]storage.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	return out, nil
}

func (s *stubStore) ListHistory(ctx context.Context, symbol string, limit int) ([]storage.HistoryPoint, error) {
	return nil, nil
}

func (s *stubStore) PurgeHistoryBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return 0, nil
}

func (s *stubStore) InsertAlert(ctx context.Context, alert storage.Alert) (storage.Alert, error) {
	s.alerts = append(s.alerts, alert)
	return alert, nil
}

func (s *stubStore) ListRecentAlerts(ctx context.Context, limit int) ([]storage.Alert, error) {
	return s.alerts, nil
}

func (s *stubStore) CountAlertsSince(ctx context.Context, since time.Time) (int64, error) {
	return int64(len(s.alerts)), nil
}

func (s *stubStore) LatestAlertTimes(ctx context.Context) (map[string]time.Time, error) {
	return nil, nil
}

func (s *stubStore) PurgeAlertsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return 0, nil
}

func testServer(t *testing.T, store *stubStore, codes ...string) *Server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0", ShutdownTimeout: time.Second},
		Scheduler: config.SchedulerConfig{
			FetchTimeout:       time.Second,
			MaxConcurrentFetch: 2,
		},
		Provider: config.ProviderConfig{RequestTimeout: time.Second},
		Market:   config.MarketConfig{Timezone: "Asia/Shanghai"},
	}
	reg := registry.New()
	reg.Seed(codes)
	svc := service.New(cfg, stubClock{}, reg, &stubProvider{}, store, store, store, store, nil, nil, zerolog.Nop())
	return New(cfg, svc, zerolog.Nop())
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func doRequest(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	s := testServer(t, newStubStore())
	rec, env := doRequest(t, s, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, success = %v", rec.Code, env.Success)
	}
}

func TestPricesReturnsSnapshots(t *testing.T) {
	store := newStubStore()
	store.snapshots["600519"] = storage.Snapshot{
		Symbol:        "600519",
		Name:          "贵州茅台",
		Price:         decimal.NewFromFloat(1720.5),
		ChangePercent: decimal.NewFromFloat(1.2),
		ObservedAt:    time.Now(),
	}
	s := testServer(t, store, "600519")

	rec, env := doRequest(t, s, http.MethodGet, "/api/stocks/prices", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var items []snapshotResponse
	if err := json.Unmarshal(env.Data, &items); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(items) != 1 || items[0].Symbol != "600519" {
		t.Fatalf("items = %+v", items)
	}
}

func TestInfoNotFound(t *testing.T) {
	s := testServer(t, newStubStore())
	rec, env := doRequest(t, s, http.MethodGet, "/api/stocks/info/999999", "")
	if rec.Code != http.StatusNotFound || env.Success {
		t.Fatalf("status = %d, success = %v", rec.Code, env.Success)
	}
}

func TestSearchRequiresKeyword(t *testing.T) {
	s := testServer(t, newStubStore())
	rec, _ := doRequest(t, s, http.MethodGet, "/api/stocks/search", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAddSymbol(t *testing.T) {
	s := testServer(t, newStubStore())

	rec, env := doRequest(t, s, http.MethodPost, "/api/scheduler/symbols", `{"symbol":"000001"}`)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec, _ = doRequest(t, s, http.MethodPost, "/api/scheduler/symbols", `{"symbol":"000001"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate add status = %d", rec.Code)
	}
}

func TestAddSymbolRejectsBlank(t *testing.T) {
	s := testServer(t, newStubStore())
	rec, _ := doRequest(t, s, http.MethodPost, "/api/scheduler/symbols", `{"symbol":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRemoveSymbol(t *testing.T) {
	s := testServer(t, newStubStore(), "600519")

	rec, _ := doRequest(t, s, http.MethodDelete, "/api/scheduler/symbols/600519", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec, _ = doRequest(t, s, http.MethodDelete, "/api/scheduler/symbols/600519", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing remove status = %d", rec.Code)
	}
}

func TestSchedulerStatus(t *testing.T) {
	s := testServer(t, newStubStore(), "600519", "000001")
	rec, env := doRequest(t, s, http.MethodGet, "/api/scheduler/status", "")
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status = %d", rec.Code)
	}
	var status struct {
		Monitored int `json:"monitored"`
	}
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if status.Monitored != 2 {
		t.Fatalf("monitored = %d, want 2", status.Monitored)
	}
}
