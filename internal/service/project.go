package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// ProjectService 管理项目与成员，成员身份决定会话中的有效角色。
type ProjectService struct {
	projects repository.ProjectRepository
	users    repository.UserRepository
}

// NewProjectService 创建 ProjectService 实例。
func NewProjectService(projects repository.ProjectRepository, users repository.UserRepository) *ProjectService {
	if projects == nil || users == nil {
		panic("repositories cannot be nil for ProjectService")
	}
	return &ProjectService{projects: projects, users: users}
}

// CreateProject 创建项目，创建者成为 owner。
func (s *ProjectService) CreateProject(ctx context.Context, ownerID uint, name string) (*domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 191 {
		return nil, fmt.Errorf("project name must be 1-191 characters: %w", ErrInvalidInput)
	}
	project := &domain.Project{Name: name, OwnerID: ownerID}
	if err := s.projects.Create(ctx, project); err != nil {
		logrus.WithField("user_id", ownerID).WithError(err).Error("Failed to create project")
		return nil, ErrInternalServer
	}
	logrus.WithFields(logrus.Fields{"user_id": ownerID, "project_id": project.ID}).Info("Project created")
	return project, nil
}

// AddMember 由项目 owner 添加或修改成员角色，owner 角色不能分配。
func (s *ProjectService) AddMember(ctx context.Context, ownerID, projectID, userID uint, role domain.ProjectRole) (*domain.ProjectMembership, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": ownerID, "project_id": projectID, "target_user_id": userID, "operation": "AddMember"})

	if !role.Valid() || role == domain.ProjectOwner {
		return nil, fmt.Errorf("role %q cannot be assigned: %w", role, ErrInvalidInput)
	}
	project, err := s.projects.FindByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		logCtx.WithError(err).Error("Failed to load project")
		return nil, ErrInternalServer
	}
	if project.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if userID == ownerID {
		return nil, fmt.Errorf("owner membership cannot be changed: %w", ErrInvalidInput)
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		logCtx.WithError(err).Error("Failed to load user")
		return nil, ErrInternalServer
	}

	member := &domain.ProjectMembership{ProjectID: projectID, UserID: userID, Role: role}
	if err := s.projects.AddMember(ctx, member); err != nil {
		logCtx.WithError(err).Error("Failed to add project member")
		return nil, ErrInternalServer
	}
	logCtx.WithField("role", role).Info("Project member added")
	return member, nil
}

// Membership 返回用户在项目中的成员身份。
func (s *ProjectService) Membership(ctx context.Context, projectID, userID uint) (*domain.ProjectMembership, error) {
	return membershipOf(ctx, s.projects, projectID, userID)
}
