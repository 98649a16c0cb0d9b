package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/tphakala/biosig-go/internal/acquisition"
	mw "github.com/tphakala/biosig-go/internal/api/middleware"
	"github.com/tphakala/biosig-go/internal/catalog"
	"github.com/tphakala/biosig-go/internal/conf"
	"github.com/tphakala/biosig-go/internal/logger"
	"github.com/tphakala/biosig-go/internal/observability"
	"github.com/tphakala/biosig-go/internal/sinks"
	"github.com/tphakala/biosig-go/internal/sources/soundcard"
)

// SessionController is the part of the acquisition controller the API drives
type SessionController interface {
	Start(ctx context.Context, cfg acquisition.SessionConfig) error
	Stop() error
	StartRecording() error
	StopRecording() error
	Status() acquisition.Status
}

// Catalog lists cataloged sessions and segments
type Catalog interface {
	Sessions(ctx context.Context, limit int) ([]catalog.Session, error)
	RecentSegments(ctx context.Context, limit int) ([]catalog.Segment, error)
}

// DeviceLister enumerates capture devices
type DeviceLister func() ([]soundcard.DeviceInfo, error)

// Server is the HTTP API server
type Server struct {
	echo     *echo.Echo
	config   *Config
	log      logger.Logger
	session  SessionController
	defaults acquisition.SessionConfig

	catalog     Catalog
	listDevices DeviceLister
	devices     *cache.Cache
	realtime    *sinks.Realtime
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithCatalog enables the session and segment listings.
func WithCatalog(c Catalog) ServerOption {
	return func(s *Server) {
		s.catalog = c
	}
}

// WithDeviceLister enables the device listing.
func WithDeviceLister(fn DeviceLister) ServerOption {
	return func(s *Server) {
		s.listDevices = fn
	}
}

// WithRealtime enables the block stream and the latest blocks endpoint.
func WithRealtime(r *sinks.Realtime) ServerOption {
	return func(s *Server) {
		s.realtime = r
	}
}

// WithMetrics serves /metrics and records request metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates the server. defaults is the session configuration used by
// POST /api/v1/session/start, request fields override it.
func New(settings *conf.Settings, session SessionController, defaults acquisition.SessionConfig, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:    config,
		session:   session,
		defaults:  defaults,
		devices:   cache.New(deviceCacheTTL, 0),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16384,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS middleware governs browser origins
			},
		},
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
	s.echo.Debug = config.Debug
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	var rec mw.RequestRecorder
	if s.metrics != nil {
		rec = s.metrics.HTTP
	}
	s.echo.Use(mw.NewRequestLogger(s.log, rec))
	s.echo.Use(mw.NewCORS(mw.SecurityConfig{AllowedOrigins: s.config.AllowedOrigins}))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders())
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.getStatus)
	v1.POST("/session/start", s.startSession)
	v1.POST("/session/stop", s.stopSession)
	v1.POST("/recording/start", s.startRecording)
	v1.POST("/recording/stop", s.stopRecording)
	v1.GET("/devices", s.getDevices)
	v1.GET("/sessions", s.getSessions)
	v1.GET("/segments", s.getSegments)
	v1.GET("/blocks", s.getBlocks)
	v1.GET("/stream", s.streamBlocks)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on the configured address until ctx ends, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.echo.Listener = ln
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP API starting", logger.String("address", ln.Addr().String()))
		errCh <- s.echo.Start("")
	}()

	select {
	case err := <-errCh:
		s.cancel()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.Shutdown(); err != nil {
		return err
	}
	<-errCh
	return nil
}

// Shutdown gracefully stops the server and closes open streams.
func (s *Server) Shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	// Hijacked stream connections are not tracked by the HTTP server
	s.wg.Wait()
	s.log.Info("HTTP API stopped")
	return nil
}
