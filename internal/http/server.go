// Package http provides the HTTP API for soaplintd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/soaplintd/pkg/lint"
)

// Server exposes the lint engine over HTTP.
type Server struct {
	echo    *echo.Echo
	engine  *lint.Engine
	logger  *zap.Logger
	config  *Config
	version string
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// RateLimit is the per-client request rate in requests/second.
	// Zero disables rate limiting.
	RateLimit float64

	// Version is reported by the status endpoint.
	Version string
}

// NewServer creates a new HTTP server over the given engine.
func NewServer(engine *lint.Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9180,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStore(rate.Limit(cfg.RateLimit))))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		engine:  engine,
		logger:  logger,
		config:  cfg,
		version: cfg.Version,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check and Prometheus scrape target
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/lint", s.handleLint)
	v1.DELETE("/sessions/:id", s.handleEndSession)
	v1.GET("/status", s.handleStatus)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleLint scores one turn and returns the verdict, including the
// rewrite plan when the turn triggered.
func (s *Server) handleLint(c echo.Context) error {
	var req lint.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid lint request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.engine.Process(c.Request().Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, lint.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, lint.ErrOutOfOrderTurn):
		// The caller replayed or reordered turns; its bug, its status.
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		s.logger.Error("lint failed",
			zap.String("session_id", req.SessionID),
			zap.Int("turn_index", req.TurnIndex),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "lint failed")
	}

	return c.JSON(http.StatusOK, result)
}

// handleEndSession drops a session's window and cooldown ordering state.
func (s *Server) handleEndSession(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	s.engine.EndSession(id)
	return c.NoContent(http.StatusNoContent)
}

// handleStatus reports service liveness details.
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:         "ok",
		Version:        s.version,
		ActiveSessions: s.engine.ActiveSessions(),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
