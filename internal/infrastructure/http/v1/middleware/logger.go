package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"larder/pkg/logger"
)

// RequestObserver receives per-request latency. Implemented by
// metrics.Collectors.
type RequestObserver interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

// Logger logs every request with timing and status and reports it to obs
// when obs is not nil.
func Logger(log *logger.Logger, obs RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if obs != nil {
			obs.ObserveHTTP(c.Request.Method, route, status, latency)
		}

		l := log.WithContext(c.Request.Context())
		kv := []any{
			"method", c.Request.Method,
			"path", path,
			"route", route,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if errs := c.Errors.String(); errs != "" {
			kv = append(kv, "error", errs)
		}
		if status >= 500 {
			l.Errorw("http request", kv...)
			return
		}
		l.Infow("http request", kv...)
	}
}
