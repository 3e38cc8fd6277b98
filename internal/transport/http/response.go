package http

import (
	"errors"
	"net/http"

	"codeclash-score-service/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response is the JSON envelope for every REST reply.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: http.StatusOK, Message: "success", Data: data})
}

func fail(c *gin.Context, code int, message string, data interface{}) {
	c.AbortWithStatusJSON(code, Response{Code: code, Message: message, Data: data})
}

// statusFor maps a domain error onto an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNoAttemptsRemaining):
		return http.StatusConflict, domain.ErrNoAttemptsRemaining.Error()
	case errors.Is(err, domain.ErrLessonLocked):
		return http.StatusLocked, domain.ErrLessonLocked.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "concurrent update, try again"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "temporarily unavailable, try again"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError replies with the mapped status. data, if non-nil, is attached to
// the reply (the attempt status on a quota rejection).
func writeError(c *gin.Context, logger *zap.Logger, err error, data interface{}) {
	code, message := statusFor(err)
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		data = verr.Fields
	}
	switch {
	case code == http.StatusServiceUnavailable:
		logger.Warn("store unavailable", zap.String("path", c.FullPath()), zap.Error(err))
	case code >= http.StatusInternalServerError:
		logger.Error("internal server error", zap.String("path", c.FullPath()), zap.Error(err))
	}
	fail(c, code, message, data)
}
