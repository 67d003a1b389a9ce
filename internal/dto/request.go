package dto

import "time"

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=50"`
	Password    string `json:"password" binding:"required,min=6"`
	Email       string `json:"email" binding:"omitempty,email"`
	DisplayName string `json:"display_name" binding:"omitempty,max=100"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// CreateProjectRequest 创建项目
type CreateProjectRequest struct {
	Name string `json:"name" binding:"required,max=191"`
}

// AddMemberRequest 添加项目成员
type AddMemberRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required,oneof=editor member viewer"`
}

// CreateSessionRequest 创建会话
type CreateSessionRequest struct {
	ProjectID      uint       `json:"project_id" binding:"required"`
	Title          string     `json:"title" binding:"required,max=200"`
	Description    string     `json:"description"`
	Visibility     string     `json:"visibility" binding:"omitempty,oneof=public private"`
	ScheduledStart *time.Time `json:"scheduled_start"`
}

// InviteRequest 邀请参与者，role 为空时按项目角色推导
type InviteRequest struct {
	UserID uint   `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"omitempty,oneof=elevated standard observer"`
}

// RespondInvitationRequest 接受或拒绝邀请
type RespondInvitationRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// TransferHostRequest 移交主持人
type TransferHostRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// UpdatePermissionsRequest 修改参与者权限，至少提供一项
type UpdatePermissionsRequest struct {
	Role               *string `json:"role" binding:"omitempty,oneof=elevated standard observer"`
	CanControlPlayback *bool   `json:"can_control_playback"`
	CanApproveFiles    *bool   `json:"can_approve_files"`
}

// MediaRequest 修改自己的音视频开关
type MediaRequest struct {
	Audio *bool `json:"audio_enabled"`
	Video *bool `json:"video_enabled"`
}

// RefreshCredentialRequest 刷新凭证，user_id 为空时刷新自己的
type RefreshCredentialRequest struct {
	UserID uint `json:"user_id"`
}

// JoinRequestRequest 申请加入会话
type JoinRequestRequest struct {
	ConnectionID string `json:"connection_id" binding:"omitempty,max=64"`
}

// RejectRequest 拒绝加入申请
type RejectRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=200"`
}
