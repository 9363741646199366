// Package middleware provides Echo middleware for logging, metrics, CORS and security headers.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs one line per request.
// Proxy requests are logged by route, scheme and target host; the target
// path, query and credentials stay out of the log.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			rt := classify(req)
			status := responseStatus(c, err)

			attrs := []any{
				"method", req.Method,
				"route", rt.prefix,
				"scheme", rt.scheme,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if rt.targetHost != "" {
				attrs = append(attrs, "target_host", rt.targetHost)
			}

			level := slog.LevelInfo
			if status >= 500 {
				level = slog.LevelWarn
			}
			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}
