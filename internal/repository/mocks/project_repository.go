package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"live-session/internal/domain"
)

// ProjectRepository 是 repository.ProjectRepository 的 mock 实现
type ProjectRepository struct {
	mock.Mock
}

func (_m *ProjectRepository) Create(ctx context.Context, project *domain.Project) error {
	ret := _m.Called(ctx, project)
	return ret.Error(0)
}

func (_m *ProjectRepository) FindByID(ctx context.Context, id uint) (*domain.Project, error) {
	ret := _m.Called(ctx, id)

	var r0 *domain.Project
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*domain.Project)
	}
	return r0, ret.Error(1)
}

func (_m *ProjectRepository) AddMember(ctx context.Context, member *domain.ProjectMembership) error {
	ret := _m.Called(ctx, member)
	return ret.Error(0)
}

func (_m *ProjectRepository) FindMembership(ctx context.Context, projectID, userID uint) (*domain.ProjectMembership, error) {
	ret := _m.Called(ctx, projectID, userID)

	var r0 *domain.ProjectMembership
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*domain.ProjectMembership)
	}
	return r0, ret.Error(1)
}
