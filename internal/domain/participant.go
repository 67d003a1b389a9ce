package domain

import (
	"time"

	"gorm.io/gorm"
)

// Role 是参与者在会话中的角色，封闭枚举。
type Role string

const (
	RoleHost     Role = "host"
	RoleElevated Role = "elevated"
	RoleStandard Role = "standard"
	RoleObserver Role = "observer"
)

// Valid 报告角色是否属于已知枚举。
func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleElevated, RoleStandard, RoleObserver:
		return true
	}
	return false
}

// InvitationStatus 表示参与记录的邀请状态。
type InvitationStatus string

const (
	InvitationInvited  InvitationStatus = "invited"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationRemoved  InvitationStatus = "removed"
)

// IsActive 仍然有效的邀请记录 (invited / accepted)。
func (s InvitationStatus) IsActive() bool {
	return s == InvitationInvited || s == InvitationAccepted
}

// Action 是权限检查的对象。
type Action string

const (
	ActionManageSession   Action = "manage_session"
	ActionInvite          Action = "invite"
	ActionApproveJoin     Action = "approve_join"
	ActionManagePeers     Action = "manage_participants"
	ActionControlPlayback Action = "control_playback"
	ActionApproveFiles    Action = "approve_files"
	ActionPublishMedia    Action = "publish_media"
	ActionChat            Action = "chat"
)

// Permissions 是每种角色的默认控制标志。
type Permissions struct {
	ControlPlayback bool `json:"can_control_playback"`
	ApproveFiles    bool `json:"can_approve_files"`
	Audio           bool `json:"audio_enabled"`
	Video           bool `json:"video_enabled"`
}

// DefaultPermissions 返回角色对应的默认标志。
func DefaultPermissions(role Role) Permissions {
	switch role {
	case RoleHost:
		return Permissions{ControlPlayback: true, ApproveFiles: true, Audio: true, Video: true}
	case RoleElevated:
		return Permissions{ControlPlayback: true, ApproveFiles: true, Audio: true}
	case RoleStandard:
		return Permissions{Audio: true}
	default:
		return Permissions{}
	}
}

// Can 是 (role, action) 的纯函数，不读取任何存储状态。
func Can(role Role, action Action) bool {
	switch action {
	case ActionManageSession, ActionInvite, ActionApproveJoin, ActionManagePeers:
		return role == RoleHost
	case ActionControlPlayback, ActionApproveFiles:
		return role == RoleHost || role == RoleElevated
	case ActionPublishMedia:
		return role == RoleHost || role == RoleElevated || role == RoleStandard
	case ActionChat:
		return role.Valid()
	}
	return false
}

// CredentialRole 是外部 RTC 提供方理解的媒体角色。
type CredentialRole string

const (
	CredentialPublisher  CredentialRole = "publisher"
	CredentialSubscriber CredentialRole = "subscriber"
)

// MediaRole 将会话角色映射为 RTC 凭证角色。
func MediaRole(role Role) CredentialRole {
	if Can(role, ActionPublishMedia) {
		return CredentialPublisher
	}
	return CredentialSubscriber
}

// Participant 表示某个用户在某个会话中的成员记录。
type Participant struct {
	ID                  uint             `gorm:"primaryKey" json:"id"`
	SessionID           string           `gorm:"type:varchar(36);not null;uniqueIndex:idx_participant_session_user" json:"session_id"`
	UserID              uint             `gorm:"not null;uniqueIndex:idx_participant_session_user;index" json:"user_id"`
	Role                Role             `gorm:"size:16;not null" json:"role"`
	InvitationStatus    InvitationStatus `gorm:"size:16;not null" json:"invitation_status"`
	InvitedBy           uint             `json:"invited_by,omitempty"`
	Online              bool             `gorm:"index" json:"online"`
	AudioEnabled        bool             `json:"audio_enabled"`
	VideoEnabled        bool             `json:"video_enabled"`
	CanControlPlayback  bool             `json:"can_control_playback"`
	CanApproveFiles     bool             `json:"can_approve_files"`
	ParticipantNumber   uint32           `json:"participant_number,omitempty"`
	CredentialToken     string           `gorm:"type:text" json:"-"`
	CredentialExpiresAt *time.Time       `gorm:"index" json:"credential_expires_at,omitempty"`
	JoinedAt            *time.Time       `json:"joined_at,omitempty"`
	LeftAt              *time.Time       `json:"left_at,omitempty"`
	AccumulatedSeconds  int64            `json:"accumulated_seconds"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt           gorm.DeletedAt   `gorm:"index" json:"-"`
}

// ApplyRoleDefaults 按角色重置控制标志。
func (p *Participant) ApplyRoleDefaults() {
	perms := DefaultPermissions(p.Role)
	p.CanControlPlayback = perms.ControlPlayback
	p.CanApproveFiles = perms.ApproveFiles
	p.AudioEnabled = perms.Audio
	p.VideoEnabled = perms.Video
}

// Allows 结合角色与可被主持人调整的标志进行判断。
// playback / file approval 由标志决定，其余动作只看角色。
func (p *Participant) Allows(action Action) bool {
	switch action {
	case ActionControlPlayback:
		return p.CanControlPlayback
	case ActionApproveFiles:
		return p.CanApproveFiles
	}
	return Can(p.Role, action)
}

// IsHost 当前记录是否为主持人。
func (p *Participant) IsHost() bool { return p.Role == RoleHost }

// CredentialValid 凭证是否在 now 时仍然有效。
func (p *Participant) CredentialValid(now time.Time) bool {
	return p.CredentialToken != "" && p.CredentialExpiresAt != nil && now.Before(*p.CredentialExpiresAt)
}

// PermissionChange 描述主持人对参与者的权限调整，nil 表示不修改。
type PermissionChange struct {
	Role               *Role `json:"role,omitempty"`
	CanControlPlayback *bool `json:"can_control_playback,omitempty"`
	CanApproveFiles    *bool `json:"can_approve_files,omitempty"`
}

// Empty 没有任何修改。
func (c PermissionChange) Empty() bool {
	return c.Role == nil && c.CanControlPlayback == nil && c.CanApproveFiles == nil
}
