package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"live-session/internal/domain"
)

// StateRepository 是 repository.StateRepository 的 mock 实现
type StateRepository struct {
	mock.Mock
}

func (_m *StateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ret := _m.Called(ctx, key, limit, window)
	return ret.Bool(0), ret.Error(1)
}

func (_m *StateRepository) PublishEvent(ctx context.Context, userID uint, evt domain.Event) error {
	ret := _m.Called(ctx, userID, evt)
	return ret.Error(0)
}

func (_m *StateRepository) SubscribeEvents(ctx context.Context, deliver func(userID uint, evt domain.Event)) error {
	ret := _m.Called(ctx, deliver)
	return ret.Error(0)
}
