package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// loadSession 读取会话并把存储层错误转换为业务错误
func loadSession(ctx context.Context, sessions repository.SessionRepository, sessionID string) (*domain.Session, error) {
	session, err := sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		logrus.WithField("session_id", sessionID).WithError(err).Error("Failed to load session")
		return nil, ErrInternalServer
	}
	return session, nil
}

// membershipOf 返回用户在项目中的成员身份，非成员返回 ErrNotProjectMember
func membershipOf(ctx context.Context, projects repository.ProjectRepository, projectID, userID uint) (*domain.ProjectMembership, error) {
	m, err := projects.FindMembership(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotProjectMember
		}
		logrus.WithFields(logrus.Fields{"project_id": projectID, "user_id": userID}).WithError(err).Error("Failed to load project membership")
		return nil, ErrInternalServer
	}
	return m, nil
}

// ensureVisible 主持人、参与者和项目成员可以查看会话
func ensureVisible(ctx context.Context, participants repository.ParticipantRepository, projects repository.ProjectRepository, userID uint, session *domain.Session) error {
	if session.HostID == userID {
		return nil
	}
	_, err := participants.Find(ctx, session.ID, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		logrus.WithFields(logrus.Fields{"session_id": session.ID, "user_id": userID}).WithError(err).Error("Failed to load participant")
		return ErrInternalServer
	}
	_, err = membershipOf(ctx, projects, session.ProjectID, userID)
	return err
}

// authorize 检查 userID 能否对会话执行 action。主持人身份以 session.HostID 为准，
// 其余用户在这里不持有会话角色，只能通过非主持人专属的检查。
func authorize(session *domain.Session, userID uint, action domain.Action) error {
	var role domain.Role
	if session.HostID == userID {
		role = domain.RoleHost
	}
	if !domain.Can(role, action) {
		return ErrForbidden
	}
	return nil
}
