package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// GormProjectRepository 是 ProjectRepository 接口的 GORM 实现
type GormProjectRepository struct {
	db *gorm.DB
}

// NewGormProjectRepository 创建 GormProjectRepository 实例
func NewGormProjectRepository(db *gorm.DB) *GormProjectRepository {
	if db == nil {
		panic("database connection cannot be nil for GormProjectRepository")
	}
	return &GormProjectRepository{db: db}
}

// Create 创建项目并登记 owner 成员
func (r *GormProjectRepository) Create(ctx context.Context, project *domain.Project) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return fmt.Errorf("gorm: create project %q: %w", project.Name, err)
		}
		owner := &domain.ProjectMembership{ProjectID: project.ID, UserID: project.OwnerID, Role: domain.ProjectOwner}
		if err := tx.Create(owner).Error; err != nil {
			return fmt.Errorf("gorm: create owner membership of project %d: %w", project.ID, err)
		}
		return nil
	})
}

// FindByID 查找项目
func (r *GormProjectRepository) FindByID(ctx context.Context, id uint) (*domain.Project, error) {
	var project domain.Project
	if err := r.db.WithContext(ctx).First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrProjectNotFound
		}
		return nil, fmt.Errorf("gorm: find project by id %d: %w", id, err)
	}
	return &project, nil
}

// AddMember 以 upsert 方式写入成员角色
func (r *GormProjectRepository) AddMember(ctx context.Context, member *domain.ProjectMembership) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role"}),
	}).Create(member).Error
	if err != nil {
		return fmt.Errorf("gorm: add member %d to project %d: %w", member.UserID, member.ProjectID, err)
	}
	return nil
}

// FindMembership 查找成员身份
func (r *GormProjectRepository) FindMembership(ctx context.Context, projectID, userID uint) (*domain.ProjectMembership, error) {
	var m domain.ProjectMembership
	err := r.db.WithContext(ctx).Where("project_id = ? AND user_id = ?", projectID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("gorm: find membership (project %d, user %d): %w", projectID, userID, err)
	}
	return &m, nil
}
