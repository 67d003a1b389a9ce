package repository

import (
	"context"
	"time"

	"live-session/internal/domain"
)

// StateRepository 定义了 Redis 中与实时状态相关的操作。
type StateRepository interface {
	// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
	// 返回 true 表示超限。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// PublishEvent 把事件发布到跨实例总线，userID 为 0 时表示会话广播。
	PublishEvent(ctx context.Context, userID uint, evt domain.Event) error

	// SubscribeEvents 接收总线上所有实例发布的事件，阻塞直到 ctx 结束。
	SubscribeEvents(ctx context.Context, deliver func(userID uint, evt domain.Event)) error
}
