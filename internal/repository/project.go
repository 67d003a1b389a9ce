package repository

import (
	"context"

	"live-session/internal/domain"
)

// ProjectRepository 管理项目及其成员关系。
type ProjectRepository interface {
	// Create 创建项目，并把创建者登记为 owner 成员。
	Create(ctx context.Context, project *domain.Project) error

	// FindByID 查找项目，不存在时返回 ErrProjectNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Project, error)

	// AddMember 添加或更新成员角色。
	AddMember(ctx context.Context, member *domain.ProjectMembership) error

	// FindMembership 查找用户在项目中的成员身份，不存在时返回 ErrNotFound。
	FindMembership(ctx context.Context, projectID, userID uint) (*domain.ProjectMembership, error)
}
