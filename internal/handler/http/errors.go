package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"movienights/internal/service"
)

// HandleServiceError 将服务层错误映射为 HTTP 状态码
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrRoomNotFound):
		ErrorResponse(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidRoomCode),
		errors.Is(err, service.ErrInvalidName),
		errors.Is(err, service.ErrInvalidMessage):
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotMember):
		ErrorResponse(c, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrNotController),
		errors.Is(err, service.ErrNotHost),
		errors.Is(err, service.ErrTargetNotMember),
		errors.Is(err, service.ErrRoomCreationConflict),
		errors.Is(err, service.ErrWriteConflict):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidTicket):
		ErrorResponse(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrStoreUnavailable):
		ErrorResponse(c, http.StatusServiceUnavailable, err.Error())
	default:
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
