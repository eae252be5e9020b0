package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"studyroomix/internal/service"
)

// HandleServiceError 把服务层错误映射为 HTTP 状态码
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound), errors.Is(err, service.ErrSessionNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidCredential),
		errors.Is(err, service.ErrNotAuthorized),
		errors.Is(err, service.ErrNotMember):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAlreadyActive):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidRoom),
		errors.Is(err, service.ErrInvalidMessage),
		errors.Is(err, service.ErrInvalidPlayback),
		errors.Is(err, service.ErrInvalidPrompt),
		errors.Is(err, service.ErrWrongRoomKind):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrOperationFailed),
		errors.Is(err, service.ErrStoreUnavailable),
		errors.Is(err, service.ErrAssistantUnavailable):
		logrus.WithError(err).Warn("Dependency unavailable")
		ErrorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable, please retry")
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
