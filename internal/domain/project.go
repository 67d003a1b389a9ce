package domain

import "time"

// Project 是会话所属的制作项目，Owner 是唯一可以创建会话的人。
type Project struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:191;not null" json:"name"`
	OwnerID   uint      `gorm:"index;not null" json:"owner_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProjectRole 是用户在项目中的成员身份。
type ProjectRole string

const (
	ProjectOwner  ProjectRole = "owner"
	ProjectEditor ProjectRole = "editor"
	ProjectMember ProjectRole = "member"
	ProjectViewer ProjectRole = "viewer"
)

// Valid 报告项目角色是否合法。
func (r ProjectRole) Valid() bool {
	switch r {
	case ProjectOwner, ProjectEditor, ProjectMember, ProjectViewer:
		return true
	}
	return false
}

// ProjectMembership 记录用户对项目的访问权限。
type ProjectMembership struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	ProjectID uint        `gorm:"not null;uniqueIndex:idx_project_member" json:"project_id"`
	UserID    uint        `gorm:"not null;uniqueIndex:idx_project_member;index" json:"user_id"`
	Role      ProjectRole `gorm:"size:16;not null" json:"role"`
	CreatedAt time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

// EffectiveRole 根据项目成员身份推导会话角色。
// 主持人角色只能通过创建会话或移交获得，这里不会返回 RoleHost。
func EffectiveRole(role ProjectRole) Role {
	switch role {
	case ProjectOwner, ProjectEditor:
		return RoleElevated
	case ProjectMember:
		return RoleStandard
	default:
		return RoleObserver
	}
}
