package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// 客户端通过会话连接发送的帧类型
const (
	FramePing     = "ping"
	FrameChat     = "chat.message"
	FramePlayback = "playback.changed"
)

const maxChatLength = 2000

// Frame 是客户端发来的消息信封。
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type chatFrame struct {
	Text string `json:"text"`
}

type playbackFrame struct {
	AssetID    string  `json:"asset_id"`
	State      string  `json:"state"`
	PositionMs int64   `json:"position_ms"`
	Rate       float64 `json:"rate"`
}

// InteractionService 处理会话连接上的聊天与播放控制消息。聊天内容只转发不存储。
type InteractionService struct {
	sessions     repository.SessionRepository
	participants repository.ParticipantRepository
	notifier     Notifier
	locks        *SessionLocks
	now          Clock
}

// NewInteractionService 创建 InteractionService 实例。
func NewInteractionService(sessions repository.SessionRepository, participants repository.ParticipantRepository, notifier Notifier, locks *SessionLocks, clock Clock) *InteractionService {
	if sessions == nil || participants == nil {
		panic("repositories cannot be nil for InteractionService")
	}
	if notifier == nil || locks == nil {
		panic("notifier and locks cannot be nil for InteractionService")
	}
	return &InteractionService{
		sessions:     sessions,
		participants: participants,
		notifier:     notifier,
		locks:        locks,
		now:          clockOrDefault(clock),
	}
}

// HandleFrame 解析并处理一帧消息。返回值非 nil 时应直接回复给发送者。
func (s *InteractionService) HandleFrame(ctx context.Context, sessionID string, userID uint, raw []byte) (*domain.Event, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", ErrInvalidInput)
	}

	switch frame.Type {
	case FramePing:
		evt, err := domain.NewEvent(domain.EventPong, sessionID, 0, s.now(), nil)
		if err != nil {
			return nil, ErrInternalServer
		}
		return &evt, nil
	case FrameChat:
		var in chatFrame
		if err := json.Unmarshal(frame.Payload, &in); err != nil {
			return nil, fmt.Errorf("malformed chat payload: %w", ErrInvalidInput)
		}
		return nil, s.Chat(ctx, sessionID, userID, in.Text)
	case FramePlayback:
		var in playbackFrame
		if err := json.Unmarshal(frame.Payload, &in); err != nil {
			return nil, fmt.Errorf("malformed playback payload: %w", ErrInvalidInput)
		}
		return nil, s.ChangePlayback(ctx, sessionID, userID, domain.PlaybackPayload{
			AssetID:    in.AssetID,
			State:      in.State,
			PositionMs: in.PositionMs,
			Rate:       in.Rate,
		})
	}
	return nil, fmt.Errorf("unknown frame type %q: %w", frame.Type, ErrInvalidInput)
}

// Chat 把聊天消息广播给会话内的所有连接，不占用版本号。
func (s *InteractionService) Chat(ctx context.Context, sessionID string, userID uint, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > maxChatLength {
		return fmt.Errorf("chat text must be 1-%d characters: %w", maxChatLength, ErrInvalidInput)
	}
	p, err := s.online(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !p.Allows(domain.ActionChat) {
		return ErrForbidden
	}
	evt, err := domain.NewEvent(domain.EventChatMessage, sessionID, 0, s.now(), domain.ChatPayload{UserID: userID, Text: text})
	if err != nil {
		return ErrInternalServer
	}
	s.notifier.Broadcast(ctx, sessionID, evt)
	return nil
}

// ChangePlayback 记录当前播放的素材并广播播放状态，需要播放控制权限。
func (s *InteractionService) ChangePlayback(ctx context.Context, sessionID string, userID uint, change domain.PlaybackPayload) error {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "operation": "ChangePlayback"})

	change.AssetID = strings.TrimSpace(change.AssetID)
	if change.AssetID == "" || change.PositionMs < 0 {
		return fmt.Errorf("asset_id is required: %w", ErrInvalidInput)
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	p, err := s.online(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if !p.Allows(domain.ActionControlPlayback) {
		return ErrForbidden
	}

	updated, err := s.sessions.SetCurrentAsset(ctx, sessionID, change.AssetID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrStateConflict):
			return ErrSessionNotActive
		case errors.Is(err, repository.ErrNotFound):
			return ErrSessionNotFound
		}
		logCtx.WithError(err).Error("Failed to store current asset")
		return ErrInternalServer
	}

	change.UserID = userID
	broadcast(ctx, s.notifier, s.now, updated, domain.EventPlaybackChanged, change)
	return nil
}

func (s *InteractionService) online(ctx context.Context, sessionID string, userID uint) (*domain.Participant, error) {
	p, err := s.participants.Find(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotInSession
		}
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID}).WithError(err).Error("Failed to load participant")
		return nil, ErrInternalServer
	}
	if !p.Online {
		return nil, ErrNotInSession
	}
	return p, nil
}
