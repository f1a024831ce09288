package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/api/middleware"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/audiocore"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/logger"
)

// Server exposes an audio Core over HTTP
type Server struct {
	echo   *echo.Echo
	config *Config
	core   *audiocore.Core
	logger logger.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan error

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the logger for the server.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// WithConfig replaces the configuration derived from the core settings
func WithConfig(cfg *Config) ServerOption {
	return func(s *Server) {
		s.config = cfg
	}
}

// New creates a server for core. It does not listen until Start.
func New(core *audiocore.Core, opts ...ServerOption) (*Server, error) {
	if core == nil {
		return nil, errors.Newf("api server requires an audio core").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}

	s := &Server{
		core:      core,
		config:    ConfigFromSettings(core.Settings),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = GetLogger()
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Debug = s.config.Debug
	s.echo.Server.ReadTimeout = s.config.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.WriteTimeout
	s.echo.Server.IdleTimeout = s.config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(middleware.NewRequestLoggerWithSkipper(s.logger, middleware.SkipPaths("/healthz", "/metrics")))
	s.echo.Use(middleware.NewCORS(middleware.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(middleware.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(middleware.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(s.core.Metrics.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/diagnostics", s.diagnostics)
	v1.GET("/elements", s.elements)
	v1.GET("/cache/stats", s.cacheStats)
	v1.DELETE("/cache", s.clearCache)
	v1.GET("/waveform", s.waveform)
	v1.POST("/audio/resume", s.resume)
}

// Handler returns the router, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.config.Listen).
			Build()
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan error, 1)
	done := s.done
	s.mu.Unlock()

	s.echo.Listener = ln
	go func() {
		err := s.echo.Start("")
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()

	s.logger.Info("HTTP server started", logger.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", logger.Error(err))
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}
