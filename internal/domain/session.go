package domain

import (
	"time"

	"gorm.io/gorm"
)

// SessionStatus 表示直播会话的生命周期状态。
type SessionStatus string

const (
	SessionScheduled SessionStatus = "SCHEDULED"
	SessionActive    SessionStatus = "ACTIVE"
	SessionPaused    SessionStatus = "PAUSED"
	SessionEnded     SessionStatus = "ENDED"
	SessionCancelled SessionStatus = "CANCELLED"
)

// IsTerminal 报告状态是否为终止状态 (ENDED / CANCELLED)。
func (s SessionStatus) IsTerminal() bool {
	return s == SessionEnded || s == SessionCancelled
}

// NonTerminalStatuses 返回所有非终止状态，用于容量统计等查询。
func NonTerminalStatuses() []SessionStatus {
	return []SessionStatus{SessionScheduled, SessionActive, SessionPaused}
}

// legalTransitions 列出状态机允许的所有边。
var legalTransitions = map[SessionStatus][]SessionStatus{
	SessionScheduled: {SessionActive, SessionCancelled},
	SessionActive:    {SessionPaused, SessionEnded},
	SessionPaused:    {SessionActive, SessionEnded},
}

// CanTransition 判断 from -> to 是否是合法的状态边。
func CanTransition(from, to SessionStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf 返回可以迁移到 to 的所有源状态。
func SourcesOf(to SessionStatus) []SessionStatus {
	var out []SessionStatus
	for _, from := range []SessionStatus{SessionScheduled, SessionActive, SessionPaused} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Visibility 决定会话是否需要主持人审批才能进入。
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Session 表示一个实时协作的收听/制作房间。
type Session struct {
	ID                  string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProjectID           uint           `gorm:"index;not null" json:"project_id"`
	HostID              uint           `gorm:"index;not null" json:"host_id"`
	Title               string         `gorm:"size:200;not null" json:"title"`
	Description         string         `gorm:"type:text" json:"description,omitempty"`
	Visibility          Visibility     `gorm:"size:16;not null" json:"visibility"`
	Status              SessionStatus  `gorm:"size:16;index;not null" json:"status"`
	ScheduledStart      *time.Time     `json:"scheduled_start,omitempty"`
	ActualStart         *time.Time     `json:"actual_start,omitempty"`
	ActualEnd           *time.Time     `json:"actual_end,omitempty"`
	LastActivityAt      time.Time      `gorm:"index" json:"last_activity_at"`
	CurrentParticipants int            `gorm:"not null" json:"current_participants"`
	CurrentAssetID      string         `gorm:"size:191" json:"current_asset_id,omitempty"`
	RoomName            string         `gorm:"size:191;uniqueIndex;not null" json:"room_name"`
	ParticipantSeq      uint32         `gorm:"not null" json:"-"`
	Version             uint64         `gorm:"not null" json:"version"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

// IsPrivate 私有会话需要邀请或审批。
func (s *Session) IsPrivate() bool { return s.Visibility != VisibilityPublic }

// SessionSummary 在会话结束时随 session.summary 事件广播。
type SessionSummary struct {
	SessionID         string `json:"session_id"`
	DurationSeconds   int64  `json:"duration_seconds"`
	TotalParticipants int    `json:"total_participants"`
	TotalListenSecs   int64  `json:"total_listen_seconds"`
}

// Actor 标识触发状态变更的一方；System 为调度器。
type Actor struct {
	UserID uint `json:"user_id,omitempty"`
	System bool `json:"system,omitempty"`
}

// SystemActor 是后台任务使用的操作者。
var SystemActor = Actor{System: true}

// UserActor 构造用户操作者。
func UserActor(userID uint) Actor { return Actor{UserID: userID} }

func (a Actor) String() string {
	if a.System {
		return "system"
	}
	return "user"
}
