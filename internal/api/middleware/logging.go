// Package middleware provides HTTP middleware components for the biosig API.
package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/biosig-go/internal/logger"
)

// RequestRecorder receives one measurement per served request
type RequestRecorder interface {
	RecordHTTPRequest(method, path string, statusCode int, duration time.Duration)
}

// NewRequestLogger creates a request logging middleware. Requests are logged
// at debug level, failures at warn. rec may be nil.
func NewRequestLogger(log logger.Logger, rec RequestRecorder) echo.MiddlewareFunc {
	return NewRequestLoggerWithSkipper(log, rec, nil)
}

// NewRequestLoggerWithSkipper creates a request logging middleware with a custom skipper.
func NewRequestLoggerWithSkipper(log logger.Logger, rec RequestRecorder, skipper middleware.Skipper) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper:     skipper,
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if rec != nil {
				// Route pattern keeps label cardinality bounded
				rec.RecordHTTPRequest(v.Method, c.Path(), v.Status, v.Latency)
			}
			if log == nil {
				return nil
			}

			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.String("ip", v.RemoteIP),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil || v.Status >= 500 {
				if v.Error != nil {
					fields = append(fields, logger.Error(v.Error))
				}
				log.Warn("request failed", fields...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	})
}
