package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"live-session/internal/domain"
	"live-session/internal/dto"
	"live-session/internal/service"
)

// AdmissionHandler 处理私有会话的加入申请
type AdmissionHandler struct {
	admission *service.AdmissionService
}

// NewAdmissionHandler 创建 AdmissionHandler 实例
func NewAdmissionHandler(admission *service.AdmissionService) *AdmissionHandler {
	if admission == nil {
		panic("AdmissionService cannot be nil for AdmissionHandler")
	}
	return &AdmissionHandler{admission: admission}
}

// RequestJoin POST /api/sessions/:sessionId/join-requests
func (h *AdmissionHandler) RequestJoin(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.JoinRequestRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	res, err := h.admission.RequestJoin(c.Request.Context(), userID, c.Param("sessionId"), req.ConnectionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	status := http.StatusAccepted
	if res.Outcome == domain.AdmissionAutoApproved {
		status = http.StatusOK
	}
	SuccessResponse(c, status, res)
}

// ListPending GET /api/sessions/:sessionId/join-requests
func (h *AdmissionHandler) ListPending(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	pending, err := h.admission.ListPending(c.Request.Context(), userID, c.Param("sessionId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"requests": pending})
}

// Approve POST /api/join-requests/:requestId/approve
func (h *AdmissionHandler) Approve(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	req, err := h.admission.Approve(c.Request.Context(), userID, c.Param("requestId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, req)
}

// Reject POST /api/join-requests/:requestId/reject
func (h *AdmissionHandler) Reject(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var body dto.RejectRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
		return
	}
	req, err := h.admission.Reject(c.Request.Context(), userID, c.Param("requestId"), body.Reason)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, req)
}

// Cancel DELETE /api/join-requests/:requestId
func (h *AdmissionHandler) Cancel(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.admission.Cancel(c.Request.Context(), userID, c.Param("requestId")); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
