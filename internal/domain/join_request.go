package domain

import "time"

// JoinRequest 是一个短生命周期的入场申请，只存在于协调存储 (Redis) 中。
// 一旦被批准、拒绝、取消或过期，记录即被删除，而不是原地修改。
type JoinRequest struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	UserID          uint      `json:"user_id"`
	DisplayName     string    `json:"display_name,omitempty"`
	RequestedRole   Role      `json:"requested_role"`
	ConnectionID    string    `json:"connection_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	ReturningMember bool      `json:"returning_member"`
}

// Remaining 距离过期还剩多少时间，已过期时为负值。
func (r *JoinRequest) Remaining(now time.Time) time.Duration {
	return r.ExpiresAt.Sub(now)
}

// Expired 在 now 时刻是否已过期。
func (r *JoinRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// AdmissionOutcome 是 RequestJoin 的返回状态。
type AdmissionOutcome string

const (
	AdmissionPending      AdmissionOutcome = "pending"
	AdmissionAutoApproved AdmissionOutcome = "auto_approved"
)
