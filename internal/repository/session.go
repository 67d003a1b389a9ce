package repository

import (
	"context"
	"time"

	"live-session/internal/domain"
)

// StatusChange 描述一次条件状态迁移。
// 只有当会话当前状态属于 From 时才会生效；RequireIdleBefore 非空时还要求
// 在线人数为 0 且 last_activity_at 早于该时间 (用于不活跃自动结束)。
type StatusChange struct {
	From              []domain.SessionStatus
	To                domain.SessionStatus
	At                time.Time
	RequireIdleBefore *time.Time
	// RequireEmpty 要求 current_participants = 0 (取消会话时使用)
	RequireEmpty bool
}

// SessionRepository 定义了会话的持久化操作。
type SessionRepository interface {
	// Create 在项目行锁内检查容量并创建会话与主持人参与记录。
	// 项目下非终止会话数 >= maxActive 时返回 ErrCapacity。
	Create(ctx context.Context, session *domain.Session, host *domain.Participant, maxActive int) error

	// FindByID 查找会话，不存在时返回 ErrSessionNotFound。
	FindByID(ctx context.Context, id string) (*domain.Session, error)

	// ListByProject 按创建时间倒序列出项目下的会话。
	ListByProject(ctx context.Context, projectID uint) ([]domain.Session, error)

	// ListByHost 列出某用户主持的会话。
	ListByHost(ctx context.Context, hostID uint) ([]domain.Session, error)

	// ListIdle 列出 ACTIVE、在线人数为 0 且 last_activity_at 早于 cutoff 的会话。
	ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Session, error)

	// Transition 原子地执行状态迁移，前置条件不满足时返回 ErrStateConflict。
	// 迁移到终止状态时同时把所有在线参与者置为离线并累计在线时长。
	Transition(ctx context.Context, id string, change StatusChange) (*domain.Session, error)

	// SetCurrentAsset 更新当前播放的素材，仅在 ACTIVE/PAUSED 时生效。
	SetCurrentAsset(ctx context.Context, id, assetID string, at time.Time) (*domain.Session, error)

	// NextParticipantNumber 原子地分配一个新的参与者编号。编号唯一且递增，
	// 分配后未使用 (例如凭证签发失败) 的编号不会回收。
	NextParticipantNumber(ctx context.Context, id string) (uint32, error)

	// Delete 软删除终止状态的会话及其参与记录，非终止状态返回 ErrStateConflict。
	Delete(ctx context.Context, id string) error
}
