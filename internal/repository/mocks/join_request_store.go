package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"live-session/internal/domain"
)

// JoinRequestStore 是 repository.JoinRequestStore 的 mock 实现
type JoinRequestStore struct {
	mock.Mock
}

func (_m *JoinRequestStore) Create(ctx context.Context, req *domain.JoinRequest) (bool, error) {
	ret := _m.Called(ctx, req)
	return ret.Bool(0), ret.Error(1)
}

func (_m *JoinRequestStore) Get(ctx context.Context, requestID string) (*domain.JoinRequest, error) {
	ret := _m.Called(ctx, requestID)

	var r0 *domain.JoinRequest
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*domain.JoinRequest)
	}
	return r0, ret.Error(1)
}

func (_m *JoinRequestStore) FindByPair(ctx context.Context, sessionID string, userID uint) (*domain.JoinRequest, error) {
	ret := _m.Called(ctx, sessionID, userID)

	var r0 *domain.JoinRequest
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*domain.JoinRequest)
	}
	return r0, ret.Error(1)
}

func (_m *JoinRequestStore) Delete(ctx context.Context, requestID string) (bool, error) {
	ret := _m.Called(ctx, requestID)
	return ret.Bool(0), ret.Error(1)
}

func (_m *JoinRequestStore) ClaimWarning(ctx context.Context, requestID string, at time.Time) (bool, error) {
	ret := _m.Called(ctx, requestID, at)
	return ret.Bool(0), ret.Error(1)
}

func (_m *JoinRequestStore) ListBySession(ctx context.Context, sessionID string) ([]domain.JoinRequest, error) {
	ret := _m.Called(ctx, sessionID)

	var r0 []domain.JoinRequest
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]domain.JoinRequest)
	}
	return r0, ret.Error(1)
}

func (_m *JoinRequestStore) ListAll(ctx context.Context) ([]domain.JoinRequest, error) {
	ret := _m.Called(ctx)

	var r0 []domain.JoinRequest
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]domain.JoinRequest)
	}
	return r0, ret.Error(1)
}
