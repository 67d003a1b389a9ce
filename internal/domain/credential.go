package domain

import "time"

// CredentialRequest 是向 RTC 提供方申请媒体凭证的参数。
type CredentialRequest struct {
	RoomName          string
	ParticipantNumber uint32
	Identity          string
	Role              CredentialRole
	TTL               time.Duration
}

// Credential 是 RTC 提供方签发的限时凭证。
type Credential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
