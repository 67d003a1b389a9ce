package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// AutoApprovePolicy 决定入场申请能否跳过主持人审批。
// existing 是用户在该会话中的现有参与记录，可能为 nil。
type AutoApprovePolicy interface {
	Name() string
	Qualifies(ctx context.Context, session *domain.Session, userID uint, existing *domain.Participant) (bool, error)
}

// 自动审批策略名称，对应配置项 AUTO_APPROVE_POLICY
const (
	PolicyAcceptedInvitation = "accepted_invitation"
	PolicyPriorJoin          = "prior_join"
	PolicyNone               = "none"
)

// NewAutoApprovePolicy 按名称构造策略，空名称使用 accepted_invitation。
func NewAutoApprovePolicy(name string, participants repository.ParticipantRepository) (AutoApprovePolicy, error) {
	switch name {
	case "", PolicyAcceptedInvitation:
		return acceptedInvitationPolicy{}, nil
	case PolicyPriorJoin:
		if participants == nil {
			return nil, errors.New("prior_join policy requires a participant repository")
		}
		return priorJoinPolicy{participants: participants}, nil
	case PolicyNone:
		return noAutoApprove{}, nil
	}
	return nil, fmt.Errorf("unknown auto-approve policy %q", name)
}

// acceptedInvitationPolicy 已接受邀请的用户直接通过
type acceptedInvitationPolicy struct{}

func (acceptedInvitationPolicy) Name() string { return PolicyAcceptedInvitation }

func (acceptedInvitationPolicy) Qualifies(_ context.Context, _ *domain.Session, _ uint, existing *domain.Participant) (bool, error) {
	return existing != nil && existing.InvitationStatus == domain.InvitationAccepted, nil
}

// priorJoinPolicy 在同一项目的任一会话中成功加入过的用户直接通过
type priorJoinPolicy struct {
	participants repository.ParticipantRepository
}

func (priorJoinPolicy) Name() string { return PolicyPriorJoin }

func (p priorJoinPolicy) Qualifies(ctx context.Context, session *domain.Session, userID uint, existing *domain.Participant) (bool, error) {
	if existing != nil && existing.InvitationStatus == domain.InvitationAccepted {
		return true, nil
	}
	return p.participants.HasJoined(ctx, session.ProjectID, userID)
}

type noAutoApprove struct{}

func (noAutoApprove) Name() string { return PolicyNone }

func (noAutoApprove) Qualifies(context.Context, *domain.Session, uint, *domain.Participant) (bool, error) {
	return false, nil
}

// AdmissionConfig 是入场审批协议的时间参数。
type AdmissionConfig struct {
	RequestTTL       time.Duration // 申请的有效期
	WarningThreshold time.Duration // 剩余时间低于该值时发送即将过期提醒
	Clock            Clock
}

// RequestJoinResult 是 RequestJoin 的返回值。
type RequestJoinResult struct {
	Outcome domain.AdmissionOutcome `json:"outcome"`
	Request *domain.JoinRequest     `json:"request,omitempty"`
}

// AdmissionService 负责入场申请的创建、审批、拒绝、取消与过期。
// 申请是否存活只由协调存储决定，删除成功者即为裁决者。
type AdmissionService struct {
	sessions     repository.SessionRepository
	participants repository.ParticipantRepository
	projects     repository.ProjectRepository
	users        repository.UserRepository
	requests     repository.JoinRequestStore
	policy       AutoApprovePolicy
	notifier     Notifier
	cfg          AdmissionConfig
	now          Clock
}

// NewAdmissionService 创建 AdmissionService 实例。policy 为 nil 时使用 accepted_invitation。
func NewAdmissionService(
	sessions repository.SessionRepository,
	participants repository.ParticipantRepository,
	projects repository.ProjectRepository,
	users repository.UserRepository,
	requests repository.JoinRequestStore,
	policy AutoApprovePolicy,
	notifier Notifier,
	cfg AdmissionConfig,
) *AdmissionService {
	if sessions == nil || participants == nil || projects == nil || users == nil {
		panic("repositories cannot be nil for AdmissionService")
	}
	if requests == nil {
		panic("JoinRequestStore cannot be nil for AdmissionService")
	}
	if notifier == nil {
		panic("Notifier cannot be nil for AdmissionService")
	}
	if policy == nil {
		policy = acceptedInvitationPolicy{}
	}
	if cfg.RequestTTL <= 0 {
		cfg.RequestTTL = 5 * time.Minute
	}
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = time.Minute
	}
	return &AdmissionService{
		sessions:     sessions,
		participants: participants,
		projects:     projects,
		users:        users,
		requests:     requests,
		policy:       policy,
		notifier:     notifier,
		cfg:          cfg,
		now:          clockOrDefault(cfg.Clock),
	}
}

// RequestJoin 为用户创建入场申请。满足自动审批条件或会话公开时立即写入授权并返回 auto_approved，
// 调用方可以直接 Join。
func (s *AdmissionService) RequestJoin(ctx context.Context, userID uint, sessionID, connectionID string) (*RequestJoinResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "operation": "RequestJoin"})

	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, invalidTransition("request to join", session.Status)
	}

	existing, err := s.participants.Find(ctx, sessionID, userID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, s.internal(logCtx, err, "Failed to load participant")
		}
		existing = nil
	}
	if existing != nil {
		if existing.Online {
			return nil, ErrAlreadyInSession
		}
		if existing.InvitationStatus == domain.InvitationRemoved {
			return nil, fmt.Errorf("participant was removed: %w", ErrForbidden)
		}
	}
	membership, err := membershipOf(ctx, s.projects, session.ProjectID, userID)
	if err != nil {
		return nil, err
	}
	role := domain.EffectiveRole(membership.Role)
	if existing != nil && existing.Role != domain.RoleHost && existing.Role.Valid() {
		role = existing.Role
	}

	qualifies, err := s.policy.Qualifies(ctx, session, userID, existing)
	if err != nil {
		return nil, s.internal(logCtx, err, "Auto-approve policy failed")
	}
	if qualifies || !session.IsPrivate() || session.HostID == userID {
		if err := s.grant(ctx, session, userID, role); err != nil {
			return nil, s.internal(logCtx, err, "Failed to write auto-approved grant")
		}
		logCtx.WithField("policy", s.policy.Name()).Info("Join request auto-approved")
		return &RequestJoinResult{Outcome: domain.AdmissionAutoApproved}, nil
	}

	now := s.now()
	if live, err := s.requests.FindByPair(ctx, sessionID, userID); err == nil && !live.Expired(now) {
		return nil, ErrDuplicateRequest
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, s.internal(logCtx, err, "Failed to check pending request")
	}

	displayName := ""
	if user, err := s.users.FindByID(ctx, userID); err == nil {
		displayName = user.Name()
	} else if !errors.Is(err, repository.ErrNotFound) {
		logCtx.WithError(err).Warn("Failed to load requester profile")
	}

	req := &domain.JoinRequest{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		UserID:          userID,
		DisplayName:     displayName,
		RequestedRole:   role,
		ConnectionID:    connectionID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.cfg.RequestTTL),
		ReturningMember: existing != nil,
	}
	created, err := s.requests.Create(ctx, req)
	if err != nil {
		return nil, s.internal(logCtx, err, "Failed to store join request")
	}
	if !created {
		return nil, ErrDuplicateRequest
	}

	logCtx.WithField("request_id", req.ID).Info("Join request created")
	notifyUser(ctx, s.notifier, s.now, session.HostID, sessionID, domain.EventJoinRequestCreated, s.requestPayload(req, now, ""))
	return &RequestJoinResult{Outcome: domain.AdmissionPending, Request: req}, nil
}

// Approve 主持人批准申请。只有赢得删除的调用者写入授权并通知申请者。
func (s *AdmissionService) Approve(ctx context.Context, approverID uint, requestID string) (*domain.JoinRequest, error) {
	logCtx := logrus.WithFields(logrus.Fields{"request_id": requestID, "user_id": approverID, "operation": "ApproveJoinRequest"})

	req, session, err := s.resolvable(ctx, approverID, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.take(ctx, req); err != nil {
		return nil, err
	}
	if err := s.grant(ctx, session, req.UserID, req.RequestedRole); err != nil {
		logCtx.WithError(err).Error("Failed to write grant for approved request")
		return nil, ErrInternalServer
	}

	logCtx.WithFields(logrus.Fields{"session_id": req.SessionID, "requester_id": req.UserID}).Info("Join request approved")
	notifyUser(ctx, s.notifier, s.now, req.UserID, req.SessionID, domain.EventJoinRequestApproved, s.requestPayload(req, s.now(), ""))
	return req, nil
}

// Reject 主持人拒绝申请，拒绝原因会转发给申请者。
func (s *AdmissionService) Reject(ctx context.Context, approverID uint, requestID, reason string) (*domain.JoinRequest, error) {
	logCtx := logrus.WithFields(logrus.Fields{"request_id": requestID, "user_id": approverID, "operation": "RejectJoinRequest"})

	req, _, err := s.resolvable(ctx, approverID, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.take(ctx, req); err != nil {
		return nil, err
	}

	logCtx.WithFields(logrus.Fields{"session_id": req.SessionID, "requester_id": req.UserID}).Info("Join request rejected")
	payload := s.requestPayload(req, s.now(), reason)
	payload.RetryAllowed = false
	notifyUser(ctx, s.notifier, s.now, req.UserID, req.SessionID, domain.EventJoinRequestRejected, payload)
	return req, nil
}

// Cancel 申请者撤回自己的申请。
func (s *AdmissionService) Cancel(ctx context.Context, userID uint, requestID string) error {
	logCtx := logrus.WithFields(logrus.Fields{"request_id": requestID, "user_id": userID, "operation": "CancelJoinRequest"})

	req, err := s.live(ctx, requestID)
	if err != nil {
		return err
	}
	if req.UserID != userID {
		return ErrForbidden
	}
	if err := s.take(ctx, req); err != nil {
		return err
	}

	logCtx.WithField("session_id", req.SessionID).Info("Join request cancelled")
	if session, err := s.sessions.FindByID(ctx, req.SessionID); err == nil {
		notifyUser(ctx, s.notifier, s.now, session.HostID, req.SessionID, domain.EventJoinRequestCancelled, s.requestPayload(req, s.now(), "cancelled"))
	} else {
		logCtx.WithError(err).Debug("Session gone, host not notified of cancellation")
	}
	return nil
}

// ListPending 主持人查看会话中尚未过期的申请。
func (s *AdmissionService) ListPending(ctx context.Context, hostID uint, sessionID string) ([]domain.JoinRequest, error) {
	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, hostID, domain.ActionApproveJoin); err != nil {
		return nil, err
	}
	all, err := s.requests.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, s.internal(logrus.WithField("session_id", sessionID), err, "Failed to list join requests")
	}
	now := s.now()
	pending := make([]domain.JoinRequest, 0, len(all))
	for _, r := range all {
		if !r.Expired(now) {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// SweepStats 记录一次过期调度的结果。
type SweepStats struct {
	Expired int
	Warned  int
}

// SweepExpired 由调度器周期调用：删除并通知过期申请，对即将过期的申请发送一次提醒。
// 剩余时间进入 (0, WarningThreshold] 后，由存储原子占用提醒，多个实例、任意间隔的调度都只会提醒一次。
func (s *AdmissionService) SweepExpired(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	all, err := s.requests.ListAll(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to scan join requests")
		return stats, ErrInternalServer
	}

	now := s.now()
	for i := range all {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		req := &all[i]
		if req.Expired(now) {
			if s.expire(ctx, req, now) {
				stats.Expired++
			}
			continue
		}
		if req.Remaining(now) <= s.cfg.WarningThreshold && s.warn(ctx, req, now) {
			stats.Warned++
		}
	}
	if stats.Expired > 0 || stats.Warned > 0 {
		logrus.WithFields(logrus.Fields{"expired": stats.Expired, "warned": stats.Warned}).Info("Join request sweep finished")
	}
	return stats, nil
}

func (s *AdmissionService) expire(ctx context.Context, req *domain.JoinRequest, now time.Time) bool {
	logCtx := logrus.WithFields(logrus.Fields{"request_id": req.ID, "session_id": req.SessionID, "operation": "SweepExpired"})

	deleted, err := s.requests.Delete(ctx, req.ID)
	if err != nil {
		logCtx.WithError(err).Warn("Failed to delete expired join request")
		return false
	}
	if !deleted {
		logCtx.Debug("Expired join request already resolved")
		return false
	}

	payload := s.requestPayload(req, now, "expired")
	payload.RetryAllowed = true
	notifyUser(ctx, s.notifier, s.now, req.UserID, req.SessionID, domain.EventJoinRequestExpired, payload)
	if session, err := s.sessions.FindByID(ctx, req.SessionID); err == nil {
		notifyUser(ctx, s.notifier, s.now, session.HostID, req.SessionID, domain.EventJoinRequestRemoved, s.requestPayload(req, now, "expired"))
	} else {
		logCtx.WithError(err).Debug("Session gone, host not notified of expiry")
	}
	logCtx.Info("Join request expired")
	return true
}

func (s *AdmissionService) warn(ctx context.Context, req *domain.JoinRequest, now time.Time) bool {
	claimed, err := s.requests.ClaimWarning(ctx, req.ID, now)
	if err != nil {
		logrus.WithFields(logrus.Fields{"request_id": req.ID, "session_id": req.SessionID}).WithError(err).Warn("Failed to claim expiry warning")
		return false
	}
	if !claimed {
		return false
	}

	payload := s.requestPayload(req, now, "expiring")
	notifyUser(ctx, s.notifier, s.now, req.UserID, req.SessionID, domain.EventJoinRequestExpiring, payload)
	if session, err := s.sessions.FindByID(ctx, req.SessionID); err == nil {
		notifyUser(ctx, s.notifier, s.now, session.HostID, req.SessionID, domain.EventJoinRequestExpiring, payload)
	} else {
		logrus.WithFields(logrus.Fields{"request_id": req.ID, "session_id": req.SessionID}).WithError(err).Debug("Session gone, host not warned of expiry")
	}
	return true
}

// live 读取仍然存活的申请，缺失或已过期都视为 NotFound
func (s *AdmissionService) live(ctx context.Context, requestID string) (*domain.JoinRequest, error) {
	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrJoinRequestNotFound
		}
		logrus.WithField("request_id", requestID).WithError(err).Error("Failed to load join request")
		return nil, ErrInternalServer
	}
	if req.Expired(s.now()) {
		return nil, ErrJoinRequestNotFound
	}
	return req, nil
}

// resolvable 读取申请并校验审批者是会话主持人
func (s *AdmissionService) resolvable(ctx context.Context, approverID uint, requestID string) (*domain.JoinRequest, *domain.Session, error) {
	req, err := s.live(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	session, err := loadSession(ctx, s.sessions, req.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorize(session, approverID, domain.ActionApproveJoin); err != nil {
		return nil, nil, err
	}
	return req, session, nil
}

// take 原子删除申请，输掉竞争的调用者得到 NotFound
func (s *AdmissionService) take(ctx context.Context, req *domain.JoinRequest) error {
	deleted, err := s.requests.Delete(ctx, req.ID)
	if err != nil {
		logrus.WithField("request_id", req.ID).WithError(err).Error("Failed to delete join request")
		return ErrInternalServer
	}
	if !deleted {
		return ErrJoinRequestNotFound
	}
	return nil
}

func (s *AdmissionService) grant(ctx context.Context, session *domain.Session, userID uint, role domain.Role) error {
	if session.HostID == userID {
		return nil
	}
	if !role.Valid() || role == domain.RoleHost {
		role = domain.RoleStandard
	}
	p := &domain.Participant{SessionID: session.ID, UserID: userID, Role: role, InvitedBy: session.HostID}
	p.ApplyRoleDefaults()
	_, err := s.participants.Grant(ctx, p)
	return err
}

func (s *AdmissionService) requestPayload(req *domain.JoinRequest, now time.Time, reason string) domain.JoinRequestPayload {
	expiresAt := req.ExpiresAt
	remaining := int64(req.Remaining(now) / time.Second)
	if remaining < 0 {
		remaining = 0
	}
	return domain.JoinRequestPayload{
		RequestID:        req.ID,
		SessionID:        req.SessionID,
		UserID:           req.UserID,
		DisplayName:      req.DisplayName,
		RequestedRole:    req.RequestedRole,
		ExpiresAt:        &expiresAt,
		RemainingSeconds: remaining,
		Reason:           reason,
	}
}

func (s *AdmissionService) internal(logCtx *logrus.Entry, err error, msg string) error {
	logCtx.WithError(err).Error(msg)
	return ErrInternalServer
}
