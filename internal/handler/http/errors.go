package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"live-session/internal/service"
)

// statusOf 把业务错误种类映射为 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrAuthenticationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrRegistrationFailed):
		return http.StatusConflict
	case errors.Is(err, service.ErrForbidden), errors.Is(err, service.ErrNotProjectMember):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrDuplicateRequest),
		errors.Is(err, service.ErrDuplicateInvite),
		errors.Is(err, service.ErrAlreadyInSession),
		errors.Is(err, service.ErrCapacityExceeded),
		errors.Is(err, service.ErrCannotRemoveHost):
		return http.StatusConflict
	case errors.Is(err, service.ErrUpstreamFailure):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// HandleServiceError 写回业务错误，响应体带稳定的错误码
func HandleServiceError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logrus.WithField("path", c.FullPath()).WithError(err).Error("Unhandled internal server error")
		c.JSON(status, gin.H{"error": "An unexpected error occurred", "code": service.ErrorCode(err)})
		return
	}
	if status == http.StatusBadGateway {
		logrus.WithField("path", c.FullPath()).WithError(err).Warn("Upstream dependency failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": service.ErrorCode(err)})
}
