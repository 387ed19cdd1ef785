package middleware

import (
	"time"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
)

// CharmLog logs every request at debug level, and failed ones as warnings.
func CharmLog() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			status := c.Response().Status
			latency := time.Since(start)
			if status >= 400 {
				log.Warn("request", "method", req.Method, "uri", req.RequestURI, "status", status, "latency", latency)
			} else {
				log.Debug("request", "method", req.Method, "uri", req.RequestURI, "status", status, "latency", latency)
			}
			return nil
		}
	}
}
