package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"live-session/internal/domain"
	"live-session/internal/dto"
	"live-session/internal/service"
)

// ProjectHandler 处理项目与成员管理
type ProjectHandler struct {
	projects *service.ProjectService
	sessions *service.SessionService
}

// NewProjectHandler 创建 ProjectHandler 实例
func NewProjectHandler(projects *service.ProjectService, sessions *service.SessionService) *ProjectHandler {
	if projects == nil || sessions == nil {
		panic("services cannot be nil for ProjectHandler")
	}
	return &ProjectHandler{projects: projects, sessions: sessions}
}

// Create POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req dto.CreateProjectRequest
	if !bindJSON(c, &req) {
		return
	}
	project, err := h.projects.CreateProject(c.Request.Context(), userID, req.Name)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, project)
}

// AddMember POST /api/projects/:projectId/members
func (h *ProjectHandler) AddMember(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "projectId")
	if !ok {
		return
	}
	var req dto.AddMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	member, err := h.projects.AddMember(c.Request.Context(), userID, projectID, req.UserID, domain.ProjectRole(req.Role))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, member)
}

// ListSessions GET /api/projects/:projectId/sessions
func (h *ProjectHandler) ListSessions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	projectID, ok := uintParam(c, "projectId")
	if !ok {
		return
	}
	sessions, err := h.sessions.ListByProject(c.Request.Context(), userID, projectID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"sessions": sessions})
}
