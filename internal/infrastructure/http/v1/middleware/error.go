package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"hybridauth/internal/core/apperror"
	"hybridauth/pkg/logger"
)

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// ErrorHandler renders the last error of the chain as {code, message, details}.
// Causes are logged for 5xx only and never leave the process. A RATE_LIMITED
// error with retry_after also sets the Retry-After header.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		ctx := c.Request.Context()

		appErr, ok := apperror.AsAppError(err)
		if !ok {
			logger.Error(ctx, "unhandled error", "error", err, "route", c.FullPath())
			c.JSON(http.StatusInternalServerError, errorBody{
				Code:    apperror.CodeInternal,
				Message: "Internal server error",
				Details: map[string]any{"request_id": c.GetString("request_id")},
			})
			return
		}

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Error(ctx, "request failed",
				"code", appErr.Code,
				"route", c.FullPath(),
				"cause", appErr.Err,
			)
		}
		if retry, ok := appErr.Details["retry_after"]; ok {
			c.Header("Retry-After", fmt.Sprint(retry))
		}
		c.JSON(appErr.HTTPStatus, errorBody{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		})
	}
}
