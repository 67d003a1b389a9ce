package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
)

// broadcast 以会话版本号作为 seq 广播事件
func broadcast(ctx context.Context, n Notifier, now Clock, session *domain.Session, typ domain.EventType, payload interface{}) {
	evt, err := domain.NewEvent(typ, session.ID, session.Version, now(), payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"session_id": session.ID, "event_type": typ}).WithError(err).Error("Failed to build event")
		return
	}
	n.Broadcast(ctx, session.ID, evt)
}

// notifyUser 向单个用户发送私有事件
func notifyUser(ctx context.Context, n Notifier, now Clock, userID uint, sessionID string, typ domain.EventType, payload interface{}) {
	evt, err := domain.NewEvent(typ, sessionID, 0, now(), payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "event_type": typ}).WithError(err).Error("Failed to build event")
		return
	}
	n.SendToUser(ctx, userID, evt)
}

func participantPayload(p *domain.Participant, s *domain.Session, reason string) domain.ParticipantPayload {
	return domain.ParticipantPayload{
		UserID:             p.UserID,
		Role:               p.Role,
		ParticipantNumber:  p.ParticipantNumber,
		AudioEnabled:       p.AudioEnabled,
		VideoEnabled:       p.VideoEnabled,
		CanControlPlayback: p.CanControlPlayback,
		CanApproveFiles:    p.CanApproveFiles,
		Count:              s.CurrentParticipants,
		Reason:             reason,
	}
}

func actorPayload(old, next domain.SessionStatus, actor domain.Actor, reason string) domain.StateChangedPayload {
	return domain.StateChangedPayload{
		OldStatus: old,
		NewStatus: next,
		Actor:     actor.String(),
		ActorID:   actor.UserID,
		Reason:    reason,
	}
}
