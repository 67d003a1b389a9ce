package service

import (
	"context"
	"time"

	"live-session/internal/domain"
)

// CredentialIssuer 是外部 RTC 提供方的抽象。
type CredentialIssuer interface {
	Issue(ctx context.Context, req domain.CredentialRequest) (*domain.Credential, error)
}

// Notifier 是实时通知总线。投递是尽力而为的，调用方不依赖其结果。
type Notifier interface {
	// Broadcast 发送给会话内所有连接
	Broadcast(ctx context.Context, sessionID string, evt domain.Event)
	// SendToUser 发送给某个用户的所有连接
	SendToUser(ctx context.Context, userID uint, evt domain.Event)
}

// Clock 返回当前时间，测试中可替换。
type Clock func() time.Time

// SystemClock 返回截断到毫秒的 UTC 时间
func SystemClock() time.Time { return time.Now().UTC().Truncate(time.Millisecond) }

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}
