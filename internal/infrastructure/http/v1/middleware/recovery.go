// Package middleware provides the gin middleware chain of the API.
package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"larder/internal/core/apperror"
	"larder/pkg/logger"
)

// Recovery turns a panic into a 500 response. The stack is logged, never
// returned to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(c.Request.Context(), "panic recovered",
					"error", r,
					"route", c.FullPath(),
					"stack", string(debug.Stack()),
				)
				_ = c.Error(apperror.NewInternal(fmt.Errorf("panic: %v", r)).
					WithDetail("request_id", c.GetString(keyRequestID)))
				c.Abort()
			}
		}()
		c.Next()
	}
}
