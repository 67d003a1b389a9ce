package domain

import (
	"encoding/json"
	"time"
)

// EventType 是实时通知的类型。
type EventType string

// 会话范围事件 (广播给会话内所有连接)
const (
	EventSessionStateChanged EventType = "session.state_changed"
	EventSessionSummary      EventType = "session.summary"
	EventSessionSnapshot     EventType = "session.snapshot"
	EventParticipantJoined   EventType = "participant.joined"
	EventParticipantLeft     EventType = "participant.left"
	EventParticipantRemoved  EventType = "participant.removed"
	EventPermissionsChanged  EventType = "participant.permissions_changed"
	EventMediaChanged        EventType = "participant.media_changed"
	EventHostTransferred     EventType = "host.transferred"
	EventChatMessage         EventType = "chat.message"
	EventPlaybackChanged     EventType = "playback.changed"
	EventSystemNotification  EventType = "system.notification"
)

// 用户范围事件 (只发送给单个用户)
const (
	EventJoinRequestCreated   EventType = "join_request.created"
	EventJoinRequestApproved  EventType = "join_request.approved"
	EventJoinRequestRejected  EventType = "join_request.rejected"
	EventJoinRequestExpired   EventType = "join_request.expired"
	EventJoinRequestCancelled EventType = "join_request.cancelled"
	EventJoinRequestRemoved   EventType = "join_request.removed"
	EventJoinRequestExpiring  EventType = "join_request.expiring"
	EventInvitationReceived   EventType = "invitation.received"
	EventError                EventType = "error"
	EventPong                 EventType = "pong"
)

// Event 是发往客户端的统一信封。Seq 取自会话的 Version，客户端据此丢弃乱序消息。
type Event struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent 构造事件并序列化 payload。payload 无法序列化时返回错误。
func NewEvent(typ EventType, sessionID string, seq uint64, at time.Time, payload interface{}) (Event, error) {
	evt := Event{Type: typ, SessionID: sessionID, Seq: seq, At: at}
	if payload == nil {
		return evt, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return evt, err
	}
	evt.Payload = raw
	return evt, nil
}

// StateChangedPayload 对应 session.state_changed。
type StateChangedPayload struct {
	OldStatus SessionStatus `json:"old_status"`
	NewStatus SessionStatus `json:"new_status"`
	Actor     string        `json:"actor"`
	ActorID   uint          `json:"actor_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// ParticipantPayload 用于 participant.* 事件。
type ParticipantPayload struct {
	UserID             uint   `json:"user_id"`
	Role               Role   `json:"role,omitempty"`
	ParticipantNumber  uint32 `json:"participant_number,omitempty"`
	AudioEnabled       bool   `json:"audio_enabled"`
	VideoEnabled       bool   `json:"video_enabled"`
	CanControlPlayback bool   `json:"can_control_playback"`
	CanApproveFiles    bool   `json:"can_approve_files"`
	Count              int    `json:"current_participants"`
	Reason             string `json:"reason,omitempty"`
}

// JoinRequestPayload 用于 join_request.* 事件。
type JoinRequestPayload struct {
	RequestID        string     `json:"request_id"`
	SessionID        string     `json:"session_id"`
	UserID           uint       `json:"user_id"`
	DisplayName      string     `json:"display_name,omitempty"`
	RequestedRole    Role       `json:"requested_role,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds,omitempty"`
	Reason           string     `json:"reason,omitempty"`
	RetryAllowed     bool       `json:"retry_allowed,omitempty"`
}

// SnapshotPayload 在连接建立时发送当前状态。
type SnapshotPayload struct {
	Session      *Session      `json:"session"`
	Participants []Participant `json:"participants"`
	Pending      []JoinRequest `json:"pending_requests,omitempty"`
}

// NotificationPayload 是 system.notification 的内容。
type NotificationPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// HostTransferredPayload 对应 host.transferred。
type HostTransferredPayload struct {
	FromUserID uint `json:"from_user_id"`
	ToUserID   uint `json:"to_user_id"`
}

// ChatPayload 对应 chat.message，内容只转发不存储。
type ChatPayload struct {
	UserID uint   `json:"user_id"`
	Text   string `json:"text"`
}

// PlaybackPayload 对应 playback.changed。
type PlaybackPayload struct {
	UserID     uint    `json:"user_id"`
	AssetID    string  `json:"asset_id"`
	State      string  `json:"state,omitempty"`
	PositionMs int64   `json:"position_ms"`
	Rate       float64 `json:"rate,omitempty"`
}

// ErrorPayload 通过 error 事件回复给发起请求的连接。
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
