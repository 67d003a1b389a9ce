package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/dto"
	"live-session/internal/service"
)

// SessionHandler 处理会话生命周期请求
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler 创建 SessionHandler 实例
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	if sessions == nil {
		panic("SessionService cannot be nil for SessionHandler")
	}
	return &SessionHandler{sessions: sessions}
}

// Create POST /api/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.CreateSessionRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), userID, service.CreateSessionInput{
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Description:    req.Description,
		Visibility:     domain.Visibility(req.Visibility),
		ScheduledStart: req.ScheduledStart,
	})
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": session.ID}).Info("Handler.CreateSession: Session created")
	SuccessResponse(c, http.StatusCreated, session)
}

// List GET /api/sessions?host=me
func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if c.Query("host") != "me" {
		ErrorResponse(c, http.StatusBadRequest, "Unsupported filter, use host=me")
		return
	}
	sessions, err := h.sessions.ListByHost(c.Request.Context(), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"sessions": sessions})
}

// Get GET /api/sessions/:sessionId
func (h *SessionHandler) Get(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	session, err := h.sessions.Get(c.Request.Context(), userID, c.Param("sessionId"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, session)
}

// Delete DELETE /api/sessions/:sessionId
func (h *SessionHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.sessions.Delete(c.Request.Context(), domain.UserActor(userID), c.Param("sessionId")); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type transitionFunc func(ctx context.Context, actor domain.Actor, sessionID string) (*domain.Session, error)

// transition 生成 start / pause / resume / end / cancel 的处理函数
func (h *SessionHandler) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUser(c)
		if !ok {
			return
		}
		session, err := fn(c.Request.Context(), domain.UserActor(userID), c.Param("sessionId"))
		if err != nil {
			HandleServiceError(c, err)
			return
		}
		SuccessResponse(c, http.StatusOK, session)
	}
}

// Start POST /api/sessions/:sessionId/start
func (h *SessionHandler) Start() gin.HandlerFunc { return h.transition(h.sessions.Start) }

// Pause POST /api/sessions/:sessionId/pause
func (h *SessionHandler) Pause() gin.HandlerFunc { return h.transition(h.sessions.Pause) }

// Resume POST /api/sessions/:sessionId/resume
func (h *SessionHandler) Resume() gin.HandlerFunc { return h.transition(h.sessions.Resume) }

// End POST /api/sessions/:sessionId/end
func (h *SessionHandler) End() gin.HandlerFunc { return h.transition(h.sessions.End) }

// Cancel POST /api/sessions/:sessionId/cancel
func (h *SessionHandler) Cancel() gin.HandlerFunc { return h.transition(h.sessions.Cancel) }
