package httpx

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger attaches a request-scoped logger to the request context, logs
// the outcome of every request and reports it to rec.
func RequestLogger(base zerolog.Logger, rec Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid := req.Header.Get(requestIDHeader)
			if rid == "" {
				rid = uuid.NewString()
			}
			c.Response().Header().Set(requestIDHeader, rid)

			logger := base.With().
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Logger()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context())))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			rec.HTTPRequest(req.Method, route, status)

			if status >= 500 || err != nil {
				logger.Error().Err(err).Int("status", status).Dur("duration", time.Since(start)).Msg("http request failed")
			} else {
				logger.Info().Int("status", status).Dur("duration", time.Since(start)).Msg("http request served")
			}
			return nil
		}
	}
}
