package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"larder/internal/core/apperror"
	"larder/pkg/logger"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler renders the last error of the request as ErrorBody.
// Internal causes are logged and never sent to the client.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		status := http.StatusInternalServerError
		body := ErrorBody{
			Code:    apperror.CodeInternal,
			Message: "Internal server error",
			Details: map[string]any{"request_id": c.GetString(keyRequestID)},
		}

		if appErr, ok := apperror.AsAppError(err); ok {
			if appErr.Err != nil {
				logger.Error(c.Request.Context(), "request error", "code", appErr.Code, "cause", appErr.Err)
			}
			status = appErr.HTTPStatus
			body = ErrorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
			if status >= 500 {
				body.Message = "Internal server error"
				body.Details = map[string]any{"request_id": c.GetString(keyRequestID)}
			}
		} else {
			logger.Error(c.Request.Context(), "unhandled error", "error", err)
		}

		data, mErr := json.Marshal(body)
		if mErr != nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		CompleteIdempotency(c, status, data)
		c.Data(status, "application/json; charset=utf-8", data)
	}
}
