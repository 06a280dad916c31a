// Package middleware provides the HTTP middleware of the API, including the
// hybrid auth gate.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"hybridauth/internal/core/apperror"
	"hybridauth/pkg/logger"
)

// Recovery turns a panic into INTERNAL_ERROR for ErrorHandler to render.
// The gate has already deactivated any tenant scope by the time a panic
// reaches here. http.ErrAbortHandler aborts the response silently.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			ctx := c.Request.Context()
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				logger.Debug(ctx, "handler aborted", "route", c.FullPath())
				c.Abort()
				return
			}

			logger.Error(ctx, "panic recovered",
				"panic", r,
				"method", c.Request.Method,
				"route", c.FullPath(),
				"stack", string(debug.Stack()),
			)
			_ = c.Error(apperror.NewInternal(fmt.Errorf("panic: %v", r)).
				WithDetail("request_id", c.GetString("request_id")))
			c.Abort()
		}()
		c.Next()
	}
}
