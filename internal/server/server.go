package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"stockwatch/internal/config"
	"stockwatch/internal/service"
)

// Server exposes the monitoring service over HTTP.
type Server struct {
	cfg    *config.Config
	svc    *service.Service
	logger zerolog.Logger
	engine *gin.Engine
}

// New builds the router. The engine is ready to serve as soon as New returns.
func New(cfg *config.Config, svc *service.Service, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger.With().Str("component", "http").Logger(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.engine = engine
	s.routes()
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("http shutdown did not drain cleanly")
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return <-errCh
}

func (s *Server) routes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/alerts", s.handleAlerts)

	stocks := api.Group("/stocks")
	stocks.GET("/prices", s.handlePrices)
	stocks.GET("/info/:symbol", s.handleInfo)
	stocks.GET("/history/:symbol", s.handleHistory)
	stocks.GET("/search", s.handleSearch)

	sched := api.Group("/scheduler")
	sched.GET("/status", s.handleSchedulerStatus)
	sched.GET("/symbols", s.handleListSymbols)
	sched.POST("/symbols", s.handleAddSymbol)
	sched.DELETE("/symbols/:symbol", s.handleRemoveSymbol)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	}
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}
