package middleware

import (
	"time"

	applogger "FinFuse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs each request at debug level and failed ones at warn.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", c.Path()),
				applogger.String("uri", req.RequestURI),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", status),
				applogger.Duration("latency", time.Since(start)),
			}
			if err != nil {
				fields = append(fields, applogger.Error(err))
			}
			if status >= 400 || err != nil {
				l.Warn("http request", fields...)
			} else {
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}
