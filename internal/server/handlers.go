package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"stockwatch/internal/registry"
	"stockwatch/internal/storage"
	"stockwatch/internal/version"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	defaultAlertLimit   = 50
	maxAlertLimit       = 500
)

type snapshotResponse struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name,omitempty"`
	Price         float64 `json:"price"`
	ChangeAmount  float64 `json:"change_amount"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
	ObservedAt    string  `json:"observed_at"`
}

type historyResponse struct {
	Price      float64 `json:"price"`
	Volume     int64   `json:"volume"`
	RecordedAt string  `json:"recorded_at"`
}

type alertResponse struct {
	ID           int64   `json:"id"`
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"`
	MagnitudePct float64 `json:"magnitude_pct"`
	ThresholdPct float64 `json:"threshold_pct"`
	TriggeredAt  string  `json:"triggered_at"`
}

func snapshotToResponse(snap storage.Snapshot) snapshotResponse {
	return snapshotResponse{
		Symbol:        snap.Symbol,
		Name:          snap.Name,
		Price:         snap.Price.InexactFloat64(),
		ChangeAmount:  snap.ChangeAmount.InexactFloat64(),
		ChangePercent: snap.ChangePercent.InexactFloat64(),
		Volume:        snap.Volume,
		ObservedAt:    snap.ObservedAt.Format(time.RFC3339),
	}
}

func alertToResponse(alert storage.Alert) alertResponse {
	return alertResponse{
		ID:           alert.ID,
		Symbol:       alert.Symbol,
		Direction:    alert.Direction,
		MagnitudePct: alert.MagnitudePct.InexactFloat64(),
		ThresholdPct: alert.ThresholdPct.InexactFloat64(),
		TriggeredAt:  alert.TriggeredAt.Format(time.RFC3339),
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  "ok",
		"version": version.Version,
		"time":    time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handlePrices(c *gin.Context) {
	snaps, err := s.svc.Snapshots(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list snapshots failed")
		respondError(c, http.StatusInternalServerError, "failed to load prices")
		return
	}
	out := make([]snapshotResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snapshotToResponse(snap))
	}
	respondOK(c, out)
}

func (s *Server) handleInfo(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	snap, err := s.svc.Snapshot(c.Request.Context(), symbol)
	if err != nil {
		if errors.Is(err, storage.ErrSnapshotNotFound) {
			respondError(c, http.StatusNotFound, "no data for symbol "+symbol)
			return
		}
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("get snapshot failed")
		respondError(c, http.StatusInternalServerError, "failed to load symbol")
		return
	}
	respondOK(c, snapshotToResponse(snap))
}

func (s *Server) handleHistory(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))
	limit := clampLimit(c.Query("limit"), defaultHistoryLimit, maxHistoryLimit)

	points, err := s.svc.History(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("list history failed")
		respondError(c, http.StatusInternalServerError, "failed to load history")
		return
	}
	out := make([]historyResponse, 0, len(points))
	for _, p := range points {
		out = append(out, historyResponse{
			Price:      p.Price.InexactFloat64(),
			Volume:     p.Volume,
			RecordedAt: p.RecordedAt.Format(time.RFC3339),
		})
	}
	respondOK(c, gin.H{"symbol": symbol, "points": out})
}

func (s *Server) handleSearch(c *gin.Context) {
	keyword := strings.TrimSpace(c.Query("keyword"))
	if keyword == "" {
		respondError(c, http.StatusBadRequest, "keyword is required")
		return
	}
	results, err := s.svc.Search(c.Request.Context(), keyword)
	if err != nil {
		s.logger.Warn().Err(err).Str("keyword", keyword).Msg("search failed")
		respondError(c, http.StatusBadGateway, "search unavailable")
		return
	}
	respondOK(c, results)
}

func (s *Server) handleAlerts(c *gin.Context) {
	limit := clampLimit(c.Query("limit"), defaultAlertLimit, maxAlertLimit)

	alerts, err := s.svc.Alerts(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list alerts failed")
		respondError(c, http.StatusInternalServerError, "failed to load alerts")
		return
	}
	out := make([]alertResponse, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, alertToResponse(alert))
	}
	respondOK(c, out)
}

func (s *Server) handleStats(c *gin.Context) {
	respondOK(c, s.svc.Stats(c.Request.Context()))
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	stats := s.svc.Stats(c.Request.Context())
	respondOK(c, gin.H{
		"running":        stats.SchedulerRunning,
		"market_open":    stats.MarketOpen,
		"next_open":      stats.NextOpen.Format(time.RFC3339),
		"monitored":      stats.MonitoredCount,
		"last_update":    stats.LastUpdateTime.Format(time.RFC3339),
		"fetch_failures": stats.FetchFailures,
	})
}

func (s *Server) handleListSymbols(c *gin.Context) {
	respondOK(c, s.svc.Monitored())
}

func (s *Server) handleAddSymbol(c *gin.Context) {
	var body struct {
		Symbol string `json:"symbol"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "invalid body")
		return
	}
	symbol := strings.TrimSpace(body.Symbol)
	if symbol == "" {
		respondError(c, http.StatusBadRequest, "symbol is required")
		return
	}

	if err := s.svc.Register(c.Request.Context(), symbol); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			respondError(c, http.StatusConflict, "symbol already monitored")
			return
		}
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("register failed")
		respondError(c, http.StatusInternalServerError, "failed to register symbol")
		return
	}
	respondOK(c, gin.H{"symbol": symbol})
}

func (s *Server) handleRemoveSymbol(c *gin.Context) {
	symbol := strings.TrimSpace(c.Param("symbol"))

	if err := s.svc.Unregister(c.Request.Context(), symbol); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			respondError(c, http.StatusNotFound, "symbol not monitored")
			return
		}
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("unregister failed")
		respondError(c, http.StatusInternalServerError, "failed to unregister symbol")
		return
	}
	respondOK(c, gin.H{"symbol": symbol})
}

func clampLimit(raw string, def, max int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
