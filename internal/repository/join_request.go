package repository

import (
	"context"
	"time"

	"live-session/internal/domain"
)

// JoinRequestStore 是入场申请的短期协调存储。存储本身决定申请是否仍然存活，
// 持久化数据库中不保存任何申请状态。
type JoinRequestStore interface {
	// Create 仅当 (session, user) 没有存活申请时写入，返回是否写入成功。
	Create(ctx context.Context, req *domain.JoinRequest) (bool, error)

	// Get 按申请 ID 读取，不存在时返回 ErrJoinRequestNotFound。已过期但仍在保留期内的申请也会返回。
	Get(ctx context.Context, requestID string) (*domain.JoinRequest, error)

	// FindByPair 读取 (session, user) 的当前申请。
	FindByPair(ctx context.Context, sessionID string, userID uint) (*domain.JoinRequest, error)

	// Delete 原子地删除申请，只有真正删除记录的调用者得到 true。
	Delete(ctx context.Context, requestID string) (bool, error)

	// ClaimWarning 原子地标记申请已发送过期提醒，只有第一个调用者得到 true。
	// 申请不存在或已被替换时返回 false。
	ClaimWarning(ctx context.Context, requestID string, at time.Time) (bool, error)

	// ListBySession 列出某会话的全部申请 (含保留期内已过期的)。
	ListBySession(ctx context.Context, sessionID string) ([]domain.JoinRequest, error)

	// ListAll 扫描所有申请，供过期调度器使用。
	ListAll(ctx context.Context) ([]domain.JoinRequest, error)
}
