package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"live-session/internal/domain"
	"live-session/internal/dto"
	"live-session/internal/service"
)

// ParticipantHandler 处理邀请、进出会话、权限与凭证
type ParticipantHandler struct {
	participants *service.ParticipantService
}

// NewParticipantHandler 创建 ParticipantHandler 实例
func NewParticipantHandler(participants *service.ParticipantService) *ParticipantHandler {
	if participants == nil {
		panic("ParticipantService cannot be nil for ParticipantHandler")
	}
	return &ParticipantHandler{participants: participants}
}

// Invite POST /api/sessions/:sessionId/invitations
func (h *ParticipantHandler) Invite(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.InviteRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.participants.Invite(c.Request.Context(), userID, c.Param("sessionId"), service.InviteInput{
		UserID: req.UserID,
		Role:   domain.Role(req.Role),
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, p)
}

// RespondInvitation POST /api/sessions/:sessionId/invitations/respond
func (h *ParticipantHandler) RespondInvitation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.RespondInvitationRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.participants.RespondInvitation(c.Request.Context(), userID, c.Param("sessionId"), *req.Accept)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, p)
}

// Join POST /api/sessions/:sessionId/join
func (h *ParticipantHandler) Join(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	res, err := h.participants.Join(c.Request.Context(), userID, c.Param("sessionId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, dto.JoinResponse{
		Session:     res.Session,
		Participant: res.Participant,
		Credential:  dto.NewCredentialResponse(res.Credential, res.Session.RoomName, res.Participant),
	})
}

// Leave POST /api/sessions/:sessionId/leave
func (h *ParticipantHandler) Leave(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	p, err := h.participants.Leave(c.Request.Context(), userID, c.Param("sessionId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, p)
}

// List GET /api/sessions/:sessionId/participants?online=true
func (h *ParticipantHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	list, err := h.participants.List(c.Request.Context(), userID, c.Param("sessionId"), c.Query("online") == "true")
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"participants": list})
}

// UpdatePermissions PATCH /api/sessions/:sessionId/participants/:userId/permissions
func (h *ParticipantHandler) UpdatePermissions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	targetID, ok := uintParam(c, "userId")
	if !ok {
		return
	}
	var req dto.UpdatePermissionsRequest
	if !bindJSON(c, &req) {
		return
	}
	change := domain.PermissionChange{
		CanControlPlayback: req.CanControlPlayback,
		CanApproveFiles:    req.CanApproveFiles,
	}
	if req.Role != nil {
		role := domain.Role(*req.Role)
		change.Role = &role
	}
	p, err := h.participants.UpdatePermissions(c.Request.Context(), userID, c.Param("sessionId"), targetID, change)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, p)
}

// Remove DELETE /api/sessions/:sessionId/participants/:userId
func (h *ParticipantHandler) Remove(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	targetID, ok := uintParam(c, "userId")
	if !ok {
		return
	}
	if err := h.participants.Remove(c.Request.Context(), userID, c.Param("sessionId"), targetID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TransferHost POST /api/sessions/:sessionId/transfer-host
func (h *ParticipantHandler) TransferHost(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.TransferHostRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.participants.TransferHost(c.Request.Context(), userID, c.Param("sessionId"), req.UserID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, session)
}

// SetMedia PATCH /api/sessions/:sessionId/media
func (h *ParticipantHandler) SetMedia(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.MediaRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.participants.SetMedia(c.Request.Context(), userID, c.Param("sessionId"), service.MediaChange{Audio: req.Audio, Video: req.Video})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, p)
}

// RefreshCredential POST /api/sessions/:sessionId/credential
func (h *ParticipantHandler) RefreshCredential(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.RefreshCredentialRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	target := req.UserID
	if target == 0 {
		target = userID
	}
	cred, err := h.participants.RefreshCredential(c.Request.Context(), userID, c.Param("sessionId"), target)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, cred)
}
