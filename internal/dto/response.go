package dto

import (
	"time"

	"live-session/internal/domain"
)

// LoginResponse 登录成功
type LoginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// CredentialResponse 客户端连接 RTC 房间所需的全部信息
type CredentialResponse struct {
	Token             string                `json:"token"`
	RoomName          string                `json:"room_name"`
	ParticipantNumber uint32                `json:"participant_number"`
	MediaRole         domain.CredentialRole `json:"media_role"`
	ExpiresAt         time.Time             `json:"expires_at"`
}

// JoinResponse 加入成功
type JoinResponse struct {
	Session     *domain.Session     `json:"session"`
	Participant *domain.Participant `json:"participant"`
	Credential  CredentialResponse  `json:"credential"`
}

// NewCredentialResponse 组合凭证与会话房间信息
func NewCredentialResponse(c *domain.Credential, roomName string, p *domain.Participant) CredentialResponse {
	return CredentialResponse{
		Token:             c.Token,
		RoomName:          roomName,
		ParticipantNumber: p.ParticipantNumber,
		MediaRole:         domain.MediaRole(p.Role),
		ExpiresAt:         c.ExpiresAt,
	}
}
