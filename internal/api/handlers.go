package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/errors"
	"github.com/tphakala/biosig-go/internal/logger"
	"github.com/tphakala/biosig-go/internal/sources/soundcard"
)

const (
	deviceCacheTTL    = 30 * time.Second
	deviceCacheKey    = "capture"
	defaultListLimit  = 50
	maxListLimit      = 1000
	sessionStartLimit = 30 * time.Second
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// StartRequest optionally overrides the default session configuration
type StartRequest struct {
	Record          *bool    `json:"record"`
	DeviceIDs       []string `json:"deviceIds"`
	Channels        []int    `json:"channels"`
	SampleRate      int      `json:"sampleRate"`
	SamplesPerBlock int      `json:"samplesPerBlock"`
}

// apply returns base with the fields set in r replaced
func (r *StartRequest) apply(base acquisition.SessionConfig) acquisition.SessionConfig {
	cfg := base
	if r.Record != nil {
		cfg.Record = *r.Record
	}
	if len(r.DeviceIDs) > 0 {
		cfg.DeviceIDs = r.DeviceIDs
	}
	if len(r.Channels) > 0 {
		cfg.Channels = r.Channels
	}
	if r.SampleRate > 0 {
		cfg.SampleRate = r.SampleRate
	}
	if r.SamplesPerBlock > 0 {
		cfg.SamplesPerBlock = r.SamplesPerBlock
	}
	return cfg
}

// handleError logs err and writes an ErrorResponse with the status its
// category maps to
func (s *Server) handleError(c echo.Context, err error, message string) error {
	code := statusFor(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}

	s.log.Warn("API error",
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("message", message),
		logger.Error(err),
		logger.Int("code", code),
		logger.String("path", c.Request().URL.Path),
		logger.String("method", c.Request().Method))

	return c.JSON(code, resp)
}

func statusFor(err error) int {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.IsCategory(err, errors.CategoryState),
		errors.IsCategory(err, errors.CategoryNoSession):
		return http.StatusConflict
	case errors.IsCategory(err, errors.CategoryDevice):
		return http.StatusServiceUnavailable
	case errors.IsCategory(err, errors.CategoryConfiguration),
		errors.IsCategory(err, errors.CategoryValidation):
		return http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) startSession(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return s.handleError(c, echo.NewHTTPError(http.StatusBadRequest, err.Error()), "invalid start request")
	}

	ctx, cancel := timeoutContext(c, sessionStartLimit)
	defer cancel()
	if err := s.session.Start(ctx, req.apply(s.defaults)); err != nil {
		return s.handleError(c, err, "failed to start session")
	}
	return c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) stopSession(c echo.Context) error {
	if err := s.session.Stop(); err != nil {
		return s.handleError(c, err, "failed to stop session")
	}
	return c.JSON(http.StatusOK, s.session.Status())
}

func (s *Server) startRecording(c echo.Context) error {
	if err := s.session.StartRecording(); err != nil {
		return s.handleError(c, err, "failed to start recording")
	}
	return c.JSON(http.StatusAccepted, s.session.Status())
}

func (s *Server) stopRecording(c echo.Context) error {
	if err := s.session.StopRecording(); err != nil {
		return s.handleError(c, err, "failed to stop recording")
	}
	return c.JSON(http.StatusAccepted, s.session.Status())
}

// getDevices lists capture devices. Enumeration is slow on some backends so
// the result is cached briefly; ?refresh=true bypasses the cache.
func (s *Server) getDevices(c echo.Context) error {
	if s.listDevices == nil {
		return s.handleError(c, echo.NewHTTPError(http.StatusNotImplemented, "device listing not available"), "device listing not available")
	}

	if c.QueryParam("refresh") != "true" {
		if cached, ok := s.devices.Get(deviceCacheKey); ok {
			return c.JSON(http.StatusOK, cached)
		}
	}

	devices, err := s.listDevices()
	if err != nil {
		return s.handleError(c, err, "failed to list devices")
	}
	if devices == nil {
		devices = []soundcard.DeviceInfo{}
	}
	s.devices.SetDefault(deviceCacheKey, devices)
	return c.JSON(http.StatusOK, devices)
}

func (s *Server) getSessions(c echo.Context) error {
	if s.catalog == nil {
		return s.handleError(c, echo.NewHTTPError(http.StatusServiceUnavailable, "catalog disabled"), "catalog disabled")
	}
	limit, err := listLimit(c)
	if err != nil {
		return s.handleError(c, err, "invalid limit")
	}
	sessions, err := s.catalog.Sessions(c.Request().Context(), limit)
	if err != nil {
		return s.handleError(c, err, "failed to list sessions")
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) getSegments(c echo.Context) error {
	if s.catalog == nil {
		return s.handleError(c, echo.NewHTTPError(http.StatusServiceUnavailable, "catalog disabled"), "catalog disabled")
	}
	limit, err := listLimit(c)
	if err != nil {
		return s.handleError(c, err, "invalid limit")
	}
	segments, err := s.catalog.RecentSegments(c.Request().Context(), limit)
	if err != nil {
		return s.handleError(c, err, "failed to list segments")
	}
	return c.JSON(http.StatusOK, segments)
}

// getBlocks returns the realtime window oldest first
func (s *Server) getBlocks(c echo.Context) error {
	if s.realtime == nil {
		return s.handleError(c, echo.NewHTTPError(http.StatusServiceUnavailable, "stream disabled"), "stream disabled")
	}
	format := s.realtime.Format()
	snapshot := s.realtime.Snapshot()
	out := make([]blockMessage, 0, len(snapshot))
	for _, b := range snapshot {
		out = append(out, newBlockMessage(b))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"channels":   format.Channels,
		"sampleRate": format.SampleRate,
		"blocks":     out,
	})
}

func listLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, errors.Newf("limit must be between 1 and %d", maxListLimit).
			Component("api").
			Category(errors.CategoryValidation).
			Context("limit", raw).
			Build()
	}
	return n, nil
}
