package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/tphakala/beatguard/internal/api/middleware"
	"github.com/tphakala/beatguard/internal/logger"
	"github.com/tphakala/beatguard/internal/model"
)

// Dashboard is the read model the API serves.
type Dashboard interface {
	AssetSummary(ctx context.Context, assetID string) (model.AssetSummary, error)
	OwnerSummary(ctx context.Context, ownerID string) (model.OwnerSummary, error)
	RecentDetections(ctx context.Context, ownerID string, limit int) ([]model.DetectionView, error)
}

// Server is the dashboard HTTP server.
type Server struct {
	echo      *echo.Echo
	config    *Config
	dashboard Dashboard
	metrics   http.Handler
	log       logger.Logger
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetricsHandler serves h at the configured metrics path.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// New creates a dashboard server. Routes are registered immediately;
// nothing listens until Start.
func New(cfg *Config, dashboard Dashboard, opts ...ServerOption) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if dashboard == nil {
		return nil, fmt.Errorf("dashboard is required")
	}

	s := &Server{
		config:    cfg,
		dashboard: dashboard,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = cfg.ReadTimeout
	s.echo.Server.WriteTimeout = cfg.WriteTimeout
	s.echo.Server.IdleTimeout = cfg.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLogger(s.log, func(c echo.Context) bool {
		return c.Path() == "/health" || c.Path() == s.config.MetricsPath
	}))
	s.echo.Use(mw.ReadOnlyAPI(mw.SecurityConfig{
		AllowedOrigins: s.config.AllowedOrigins,
		BodyLimit:      s.config.BodyLimit,
	})...)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	if s.config.MetricsEnabled && s.metrics != nil {
		s.echo.GET(s.config.MetricsPath, echo.WrapHandler(s.metrics))
	}

	c := &Controller{dashboard: s.dashboard, log: s.log}
	c.Register(s.echo.Group("/api/v1"))
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Start begins serving HTTP requests in a background goroutine and returns
// immediately. Use Shutdown to stop the server.
func (s *Server) Start() {
	go func() {
		if err := s.startBlocking(); err != nil {
			s.log.Error("server error", logger.Error(err))
		}
	}()
	s.log.Info("HTTP server starting", logger.String("address", s.config.Listen))
}

func (s *Server) startBlocking() error {
	err := s.echo.Start(s.config.Listen)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, bounded by the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
