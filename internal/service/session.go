package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// SessionConfig 是会话生命周期服务的可调参数。
type SessionConfig struct {
	MaxActivePerProject int           // 每个项目同时存在的非终止会话上限
	InactivityThreshold time.Duration // 无人在线多久后自动结束
	SweepBatch          int           // 每次调度最多处理的会话数
	Clock               Clock
}

// CreateSessionInput 是创建会话的参数。
type CreateSessionInput struct {
	ProjectID      uint
	Title          string
	Description    string
	Visibility     domain.Visibility
	ScheduledStart *time.Time
}

// SessionService 负责会话状态机与快照。
type SessionService struct {
	sessions     repository.SessionRepository
	participants repository.ParticipantRepository
	projects     repository.ProjectRepository
	requests     repository.JoinRequestStore
	notifier     Notifier
	locks        *SessionLocks
	cfg          SessionConfig
	now          Clock
}

// NewSessionService 创建 SessionService 实例。requests 可以为 nil，此时快照不包含待审批申请。
func NewSessionService(
	sessions repository.SessionRepository,
	participants repository.ParticipantRepository,
	projects repository.ProjectRepository,
	requests repository.JoinRequestStore,
	notifier Notifier,
	locks *SessionLocks,
	cfg SessionConfig,
) *SessionService {
	if sessions == nil || participants == nil || projects == nil {
		panic("repositories cannot be nil for SessionService")
	}
	if notifier == nil || locks == nil {
		panic("notifier and locks cannot be nil for SessionService")
	}
	if cfg.MaxActivePerProject <= 0 {
		cfg.MaxActivePerProject = 3
	}
	if cfg.InactivityThreshold <= 0 {
		cfg.InactivityThreshold = 30 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 100
	}
	return &SessionService{
		sessions:     sessions,
		participants: participants,
		projects:     projects,
		requests:     requests,
		notifier:     notifier,
		locks:        locks,
		cfg:          cfg,
		now:          clockOrDefault(cfg.Clock),
	}
}

// Create 由项目 owner 创建会话，主持人记录随会话一起写入。
func (s *SessionService) Create(ctx context.Context, ownerID uint, in CreateSessionInput) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": ownerID, "project_id": in.ProjectID, "operation": "CreateSession"})

	title := strings.TrimSpace(in.Title)
	if title == "" || len(title) > 200 {
		return nil, fmt.Errorf("title must be 1-200 characters: %w", ErrInvalidInput)
	}
	if in.Visibility == "" {
		in.Visibility = domain.VisibilityPrivate
	}
	if in.Visibility != domain.VisibilityPublic && in.Visibility != domain.VisibilityPrivate {
		return nil, fmt.Errorf("unknown visibility %q: %w", in.Visibility, ErrInvalidInput)
	}

	project, err := s.projects.FindByID(ctx, in.ProjectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrProjectNotFound
		}
		logCtx.WithError(err).Error("Failed to load project")
		return nil, ErrInternalServer
	}
	if project.OwnerID != ownerID {
		logCtx.Warn("Create session denied: caller is not project owner")
		return nil, ErrForbidden
	}

	now := s.now()
	id := uuid.NewString()
	session := &domain.Session{
		ID:             id,
		ProjectID:      project.ID,
		HostID:         ownerID,
		Title:          title,
		Description:    in.Description,
		Visibility:     in.Visibility,
		Status:         domain.SessionScheduled,
		ScheduledStart: in.ScheduledStart,
		LastActivityAt: now,
		RoomName:       "ls-" + id,
	}
	host := &domain.Participant{
		UserID:           ownerID,
		Role:             domain.RoleHost,
		InvitationStatus: domain.InvitationAccepted,
		InvitedBy:        ownerID,
	}
	host.ApplyRoleDefaults()

	if err := s.sessions.Create(ctx, session, host, s.cfg.MaxActivePerProject); err != nil {
		switch {
		case errors.Is(err, repository.ErrCapacity):
			logCtx.Warn("Create session rejected: project at capacity")
			return nil, ErrCapacityExceeded
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrProjectNotFound
		}
		logCtx.WithError(err).Error("Failed to create session")
		return nil, ErrInternalServer
	}

	logCtx.WithField("session_id", session.ID).Info("Session created")
	return session, nil
}

// Get 返回会话，调用者必须是参与者或项目成员。
func (s *SessionService) Get(ctx context.Context, userID uint, sessionID string) (*domain.Session, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureVisible(ctx, userID, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ListByProject 列出项目下的会话，仅项目成员可见。
func (s *SessionService) ListByProject(ctx context.Context, userID, projectID uint) ([]domain.Session, error) {
	if _, err := membershipOf(ctx, s.projects, projectID, userID); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListByProject(ctx, projectID)
	if err != nil {
		logrus.WithField("project_id", projectID).WithError(err).Error("Failed to list sessions by project")
		return nil, ErrInternalServer
	}
	return sessions, nil
}

// ListByHost 列出用户主持的会话
func (s *SessionService) ListByHost(ctx context.Context, hostID uint) ([]domain.Session, error) {
	sessions, err := s.sessions.ListByHost(ctx, hostID)
	if err != nil {
		logrus.WithField("user_id", hostID).WithError(err).Error("Failed to list sessions by host")
		return nil, ErrInternalServer
	}
	return sessions, nil
}

// Start SCHEDULED -> ACTIVE
func (s *SessionService) Start(ctx context.Context, actor domain.Actor, sessionID string) (*domain.Session, error) {
	return s.transition(ctx, actor, sessionID, domain.SessionActive, "start", "")
}

// Pause ACTIVE -> PAUSED
func (s *SessionService) Pause(ctx context.Context, actor domain.Actor, sessionID string) (*domain.Session, error) {
	return s.transition(ctx, actor, sessionID, domain.SessionPaused, "pause", "")
}

// Resume PAUSED -> ACTIVE
func (s *SessionService) Resume(ctx context.Context, actor domain.Actor, sessionID string) (*domain.Session, error) {
	return s.transition(ctx, actor, sessionID, domain.SessionActive, "resume", "")
}

// End ACTIVE|PAUSED -> ENDED。对已结束的会话重复调用返回当前会话且不报错、不广播。
func (s *SessionService) End(ctx context.Context, actor domain.Actor, sessionID string) (*domain.Session, error) {
	return s.transition(ctx, actor, sessionID, domain.SessionEnded, "end", "")
}

// Cancel SCHEDULED -> CANCELLED，要求没有参与者在场。
func (s *SessionService) Cancel(ctx context.Context, actor domain.Actor, sessionID string) (*domain.Session, error) {
	return s.transition(ctx, actor, sessionID, domain.SessionCancelled, "cancel", "")
}

func (s *SessionService) transition(ctx context.Context, actor domain.Actor, sessionID string, to domain.SessionStatus, op, reason string) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    actor.UserID,
		"actor":      actor.String(),
		"operation":  op,
	})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	cur, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !actor.System {
		if err := authorize(cur, actor.UserID, domain.ActionManageSession); err != nil {
			logCtx.Warn("Transition denied: caller is not host")
			return nil, err
		}
	}
	if to == domain.SessionEnded && cur.Status == domain.SessionEnded {
		logCtx.Debug("Session already ended, nothing to do")
		return cur, nil
	}
	if !domain.CanTransition(cur.Status, to) {
		return nil, invalidTransition(op, cur.Status)
	}
	change := repository.StatusChange{
		From: []domain.SessionStatus{cur.Status},
		To:   to,
		At:   s.now(),
	}
	if to == domain.SessionCancelled {
		if cur.CurrentParticipants > 0 {
			return nil, fmt.Errorf("participants still present: %w", ErrInvalidState)
		}
		change.RequireEmpty = true
	}

	updated, err := s.sessions.Transition(ctx, sessionID, change)
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			// 另一个实例抢先完成了迁移
			latest, lerr := s.load(ctx, sessionID)
			if lerr == nil && to == domain.SessionEnded && latest.Status == domain.SessionEnded {
				logCtx.Debug("Session ended concurrently")
				return latest, nil
			}
			return nil, invalidTransition(op, cur.Status)
		}
		return nil, s.internal(logCtx, err, "Failed to apply transition")
	}

	logCtx.WithFields(logrus.Fields{"from": cur.Status, "to": to}).Info("Session status changed")
	broadcast(ctx, s.notifier, s.now, updated, domain.EventSessionStateChanged, actorPayload(cur.Status, to, actor, reason))
	if to == domain.SessionEnded {
		s.broadcastSummary(ctx, updated)
	}
	return updated, nil
}

// EndInactive 结束长时间无人在线的 ACTIVE 会话，返回结束的数量。
func (s *SessionService) EndInactive(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.InactivityThreshold)
	idle, err := s.sessions.ListIdle(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		logrus.WithError(err).Error("Failed to list idle sessions")
		return 0, ErrInternalServer
	}

	ended := 0
	for i := range idle {
		if err := ctx.Err(); err != nil {
			return ended, err
		}
		ok, err := s.endIdle(ctx, idle[i].ID, cutoff)
		if err != nil {
			return ended, err
		}
		if ok {
			ended++
		}
	}
	return ended, nil
}

func (s *SessionService) endIdle(ctx context.Context, sessionID string, cutoff time.Time) (bool, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "operation": "EndInactive"})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	cur, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logCtx.Debug("Idle session disappeared before sweep")
			return false, nil
		}
		return false, s.internal(logCtx, err, "Failed to reload idle session")
	}
	if cur.Status != domain.SessionActive || cur.CurrentParticipants != 0 || !cur.LastActivityAt.Before(cutoff) {
		logCtx.Debug("Session no longer idle, skipping")
		return false, nil
	}

	// 通知先准备好，只有条件更新成功后才在状态事件之前发出
	idleFor := s.now().Sub(cur.LastActivityAt).Round(time.Minute)
	notice := domain.NotificationPayload{
		Level:   "warning",
		Message: fmt.Sprintf("Session ended automatically after %s without participants", idleFor),
	}

	updated, err := s.sessions.Transition(ctx, sessionID, repository.StatusChange{
		From:              []domain.SessionStatus{domain.SessionActive},
		To:                domain.SessionEnded,
		At:                s.now(),
		RequireIdleBefore: &cutoff,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) || errors.Is(err, repository.ErrNotFound) {
			logCtx.Debug("Idle session changed concurrently, skipping")
			return false, nil
		}
		return false, s.internal(logCtx, err, "Failed to end idle session")
	}

	logCtx.Info("Session ended for inactivity")
	broadcast(ctx, s.notifier, s.now, updated, domain.EventSystemNotification, notice)
	broadcast(ctx, s.notifier, s.now, updated, domain.EventSessionStateChanged,
		actorPayload(domain.SessionActive, domain.SessionEnded, domain.SystemActor, "inactivity"))
	s.broadcastSummary(ctx, updated)
	return true, nil
}

func (s *SessionService) broadcastSummary(ctx context.Context, session *domain.Session) {
	summary := domain.SessionSummary{SessionID: session.ID}
	if session.ActualStart != nil && session.ActualEnd != nil {
		summary.DurationSeconds = int64(session.ActualEnd.Sub(*session.ActualStart) / time.Second)
	}
	participants, err := s.participants.ListBySession(ctx, session.ID, false)
	if err != nil {
		logrus.WithField("session_id", session.ID).WithError(err).Warn("Failed to load participants for summary")
	}
	for _, p := range participants {
		if p.JoinedAt != nil {
			summary.TotalParticipants++
		}
		summary.TotalListenSecs += p.AccumulatedSeconds
	}
	broadcast(ctx, s.notifier, s.now, session, domain.EventSessionSummary, summary)
}

// Delete 软删除终止状态的会话，仅主持人可操作。
func (s *SessionService) Delete(ctx context.Context, actor domain.Actor, sessionID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": actor.UserID, "operation": "DeleteSession"})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	cur, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if !actor.System {
		if err := authorize(cur, actor.UserID, domain.ActionManageSession); err != nil {
			return err
		}
	}
	if !cur.Status.IsTerminal() {
		return invalidTransition("delete", cur.Status)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return invalidTransition("delete", cur.Status)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return s.internal(logCtx, err, "Failed to delete session")
	}
	logCtx.Info("Session deleted")
	return nil
}

// Snapshot 返回新连接需要的完整状态。主持人的快照包含待审批的入场申请。
func (s *SessionService) Snapshot(ctx context.Context, userID uint, sessionID string) (*domain.SnapshotPayload, error) {
	session, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	online, err := s.participants.ListBySession(ctx, sessionID, true)
	if err != nil {
		return nil, s.internal(logrus.WithField("session_id", sessionID), err, "Failed to list online participants")
	}
	snap := &domain.SnapshotPayload{Session: session, Participants: online}
	if s.requests != nil && session.HostID == userID {
		pending, err := s.requests.ListBySession(ctx, sessionID)
		if err != nil {
			logrus.WithField("session_id", sessionID).WithError(err).Warn("Failed to list pending requests for snapshot")
		}
		now := s.now()
		for _, r := range pending {
			if !r.Expired(now) {
				snap.Pending = append(snap.Pending, r)
			}
		}
	}
	return snap, nil
}

func (s *SessionService) load(ctx context.Context, sessionID string) (*domain.Session, error) {
	return loadSession(ctx, s.sessions, sessionID)
}

func (s *SessionService) ensureVisible(ctx context.Context, userID uint, session *domain.Session) error {
	return ensureVisible(ctx, s.participants, s.projects, userID, session)
}

func (s *SessionService) internal(logCtx *logrus.Entry, err error, msg string) error {
	logCtx.WithError(err).Error(msg)
	return ErrInternalServer
}
