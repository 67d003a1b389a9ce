package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/hub"
	"live-session/internal/middleware"
	"live-session/internal/service"
)

// SessionReader 用于升级前校验会话可见性
type SessionReader interface {
	Get(ctx context.Context, userID uint, sessionID string) (*domain.Session, error)
}

// WebSocketHandler 负责处理 WebSocket 升级请求和客户端注册
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	sessions SessionReader
}

// NewWebSocketHandler 创建 WebSocketHandler。allowedOrigins 为空时不校验 Origin。
func NewWebSocketHandler(h *hub.Hub, sessions SessionReader, allowedOrigins []string) *WebSocketHandler {
	if h == nil {
		panic("Hub cannot be nil for WebSocketHandler")
	}
	if sessions == nil {
		panic("SessionReader cannot be nil for WebSocketHandler")
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}

	return &WebSocketHandler{upgrader: upgrader, hub: h, sessions: sessions}
}

// HandleUserConnection 建立用户级连接，接收邀请与加入申请等私有事件。
// URL: /ws/user
func (h *WebSocketHandler) HandleUserConnection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	h.attach(c, logrus.WithField("user_id", userID), "", userID)
}

// HandleSessionConnection 建立会话连接，连接后先收到快照，随后收到会话事件。
// URL: /ws/sessions/:sessionId
func (h *WebSocketHandler) HandleSessionConnection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sessionID := c.Param("sessionId")
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "session_id": sessionID})

	// 升级之前校验，失败时仍可返回普通的 HTTP 错误
	if _, err := h.sessions.Get(c.Request.Context(), userID, sessionID); err != nil {
		logCtx.WithError(err).Warn("WS Handler: Session not accessible")
		status := http.StatusInternalServerError
		switch service.ErrorCode(err) {
		case "not_found":
			status = http.StatusNotFound
		case "forbidden", "not_project_member":
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error(), "code": service.ErrorCode(err)})
		return
	}
	h.attach(c, logCtx, sessionID, userID)
}

func (h *WebSocketHandler) attach(c *gin.Context, logCtx *logrus.Entry, sessionID string, userID uint) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		logCtx.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	client := hub.NewClient(h.hub, conn, sessionID, userID)
	if !h.hub.QueueMessage(hub.HubMessage{Type: hub.MessageRegister, Client: client}) {
		logCtx.Error("WS Handler: Hub message channel full, failed to register client")
		client.CloseConn()
		return
	}
	client.Run()
	logCtx.Info("WS Handler: Client connected")
}

func currentUser(c *gin.Context) (uint, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		logrus.Warn("WS Handler: User ID not found in context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return 0, false
	}
	return userID, true
}
