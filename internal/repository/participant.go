package repository

import (
	"context"
	"time"

	"live-session/internal/domain"
)

// OnlineChange 是 MarkOnline 的输入。
type OnlineChange struct {
	SessionID           string
	UserID              uint
	ParticipantNumber   uint32
	CredentialToken     string
	CredentialExpiresAt time.Time
	At                  time.Time
	// Grant 非空时在同一事务中先写入入场授权，上线失败时授权一并回滚
	Grant *domain.Participant
}

// ParticipantRepository 定义了参与者记录的持久化操作。
// 所有会改变在线人数的方法都在同一事务中更新 sessions.current_participants。
type ParticipantRepository interface {
	// Find 查找 (session, user) 对应的记录，不存在时返回 ErrParticipantNotFound。
	Find(ctx context.Context, sessionID string, userID uint) (*domain.Participant, error)

	// ListBySession 列出会话的参与者，onlineOnly 为 true 时只返回在线者。
	ListBySession(ctx context.Context, sessionID string, onlineOnly bool) ([]domain.Participant, error)

	// Create 新建参与记录，(session, user) 已存在时返回 ErrDuplicateEntry。
	Create(ctx context.Context, participant *domain.Participant) error

	// Grant 写入持久化的入场授权 (invitation_status = accepted)。
	// 已被移除或拒绝的记录会被重新激活；已接受的记录保持原角色。
	Grant(ctx context.Context, participant *domain.Participant) (*domain.Participant, error)

	// Update 保存标志与状态类字段，并在同一事务中递增会话版本号。
	Update(ctx context.Context, participant *domain.Participant) (*domain.Session, error)

	// MarkOnline 在一个事务内把离线的已接受参与者置为在线、写入凭证、
	// 在线人数 +1 并刷新 last_activity_at。会话非 ACTIVE 或参与者已在线时返回 ErrStateConflict。
	MarkOnline(ctx context.Context, change OnlineChange) (*domain.Session, *domain.Participant, error)

	// MarkOffline 把在线参与者置为离线、累计时长、在线人数 -1 (不低于 0)。
	// status 非空时同时更新邀请状态；参与者本就离线且 status 为空时返回 ErrStateConflict。
	MarkOffline(ctx context.Context, sessionID string, userID uint, status domain.InvitationStatus, at time.Time) (*domain.Session, *domain.Participant, error)

	// UpdateCredential 替换参与者的凭证。
	UpdateCredential(ctx context.Context, sessionID string, userID uint, token string, expiresAt time.Time) (*domain.Participant, error)

	// TransferHost 在一个事务内把主持人角色移交给另一名已接受的参与者。
	TransferHost(ctx context.Context, sessionID string, fromUserID, toUserID uint, at time.Time) (*domain.Session, error)

	// ListStaleOnline 列出凭证在 cutoff 之前就已过期但仍在线的参与者。
	ListStaleOnline(ctx context.Context, cutoff time.Time, limit int) ([]domain.Participant, error)

	// HasJoined 用户是否曾经成功加入过该项目下的任何会话。
	HasJoined(ctx context.Context, projectID, userID uint) (bool, error)
}
