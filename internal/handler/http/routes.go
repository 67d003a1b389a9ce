package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	wsHandler "live-session/internal/handler/websocket"
)

// Handlers 汇总所有 HTTP 与 WebSocket 处理器
type Handlers struct {
	Auth        *AuthHandler
	Project     *ProjectHandler
	Session     *SessionHandler
	Participant *ParticipantHandler
	Admission   *AdmissionHandler
	WebSocket   *wsHandler.WebSocketHandler
}

// RouteMiddleware 是路由组使用的中间件
type RouteMiddleware struct {
	Auth          gin.HandlerFunc
	AuthRateLimit gin.HandlerFunc // 登录注册按 IP 限流
	APIRateLimit  gin.HandlerFunc // 认证后的接口按用户限流
}

// RegisterRoutes 注册全部路由
func RegisterRoutes(router *gin.Engine, h Handlers, mw RouteMiddleware) {
	api := router.Group("/api")

	authRoutes := api.Group("/auth")
	if mw.AuthRateLimit != nil {
		authRoutes.Use(mw.AuthRateLimit)
	}
	{
		authRoutes.POST("/register", h.Auth.Register)
		authRoutes.POST("/login", h.Auth.Login)
	}

	protected := api.Group("")
	protected.Use(mw.Auth)
	if mw.APIRateLimit != nil {
		protected.Use(mw.APIRateLimit)
	}

	projects := protected.Group("/projects")
	{
		projects.POST("", h.Project.Create)
		projects.POST("/:projectId/members", h.Project.AddMember)
		projects.GET("/:projectId/sessions", h.Project.ListSessions)
	}

	sessions := protected.Group("/sessions")
	{
		sessions.POST("", h.Session.Create)
		sessions.GET("", h.Session.List)
		sessions.GET("/:sessionId", h.Session.Get)
		sessions.DELETE("/:sessionId", h.Session.Delete)
		sessions.POST("/:sessionId/start", h.Session.Start())
		sessions.POST("/:sessionId/pause", h.Session.Pause())
		sessions.POST("/:sessionId/resume", h.Session.Resume())
		sessions.POST("/:sessionId/end", h.Session.End())
		sessions.POST("/:sessionId/cancel", h.Session.Cancel())
		sessions.POST("/:sessionId/transfer-host", h.Participant.TransferHost)

		sessions.POST("/:sessionId/invitations", h.Participant.Invite)
		sessions.POST("/:sessionId/invitations/respond", h.Participant.RespondInvitation)
		sessions.POST("/:sessionId/join", h.Participant.Join)
		sessions.POST("/:sessionId/leave", h.Participant.Leave)
		sessions.GET("/:sessionId/participants", h.Participant.List)
		sessions.PATCH("/:sessionId/participants/:userId/permissions", h.Participant.UpdatePermissions)
		sessions.DELETE("/:sessionId/participants/:userId", h.Participant.Remove)
		sessions.PATCH("/:sessionId/media", h.Participant.SetMedia)
		sessions.POST("/:sessionId/credential", h.Participant.RefreshCredential)

		sessions.POST("/:sessionId/join-requests", h.Admission.RequestJoin)
		sessions.GET("/:sessionId/join-requests", h.Admission.ListPending)
	}

	joinRequests := protected.Group("/join-requests")
	{
		joinRequests.POST("/:requestId/approve", h.Admission.Approve)
		joinRequests.POST("/:requestId/reject", h.Admission.Reject)
		joinRequests.DELETE("/:requestId", h.Admission.Cancel)
	}

	if h.WebSocket != nil {
		ws := router.Group("/ws")
		ws.Use(mw.Auth)
		{
			ws.GET("/user", h.WebSocket.HandleUserConnection)
			ws.GET("/sessions/:sessionId", h.WebSocket.HandleSessionConnection)
		}
	}

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
}
