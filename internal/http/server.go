// Package http serves run status, live stage events and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sanvibhowmick/forge/internal/history"
	"github.com/sanvibhowmick/forge/internal/pipeline"
	"github.com/sanvibhowmick/forge/internal/secrets"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// RunStore is the read side of the run history.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]*history.Run, error)
	GetRun(ctx context.Context, id string) (*history.Run, error)
}

// EventStream delivers live events of one run.
type EventStream interface {
	Subscribe(runID string, handler func(pipeline.Event)) (*nats.Subscription, error)
}

// Server provides HTTP endpoints for forge.
type Server struct {
	echo     *echo.Echo
	runs     RunStore
	stream   EventStream
	redactor *secrets.Redactor
	metrics  *HTTPMetrics
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Heartbeat is the idle interval between SSE keepalives.
	Heartbeat time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithEventStream enables GET /api/v1/runs/:id/events.
func WithEventStream(stream EventStream) Option {
	return func(s *Server) {
		s.stream = stream
	}
}

// WithRedactor enables POST /api/v1/scrub and masks stored diagnostics in
// responses.
func WithRedactor(r *secrets.Redactor) Option {
	return func(s *Server) {
		s.redactor = r
	}
}

// WithMetrics records request metrics.
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a new HTTP server.
func NewServer(runs RunStore, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if runs == nil {
		return nil, fmt.Errorf("run store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 30 * time.Second
	}

	s := &Server{
		runs:   runs,
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if s.metrics != nil {
		e.Use(s.metrics.MetricsMiddleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})
	s.echo = e

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.GET("/runs/:id/events", s.handleRunEvents)
	v1.POST("/scrub", s.handleScrub)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxListLimit))
		}
		limit = n
	}

	runs, err := s.runs.ListRuns(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error("listing runs failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}

	resp := RunListResponse{Runs: make([]RunSummary, 0, len(runs))}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, summarize(r))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := s.runs.GetRun(c.Request().Context(), c.Param("id"))
	if errors.Is(err, history.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		s.logger.Error("loading run failed", zap.String("run_id", c.Param("id")), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load run")
	}

	for i := range run.Records {
		run.Records[i].Diagnostic = s.redactor.Scrub(run.Records[i].Diagnostic)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleScrub(c echo.Context) error {
	if s.redactor == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "secret scrubbing is disabled")
	}
	var req ScrubRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scrub request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	scrubbed, findings := s.redactor.Redact(req.Content)
	s.logger.Debug("scrubbed content", zap.Int("findings", len(findings)))

	return c.JSON(http.StatusOK, ScrubResponse{
		Content:       scrubbed,
		FindingsCount: len(findings),
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
