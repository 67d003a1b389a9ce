package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// ParticipantConfig 是参与者服务的可调参数。
type ParticipantConfig struct {
	CredentialTTL   time.Duration // 签发凭证的有效期
	CredentialGrace time.Duration // 凭证过期后仍允许在线的宽限期
	RefreshWindow   time.Duration // 剩余有效期小于该值时才重新签发
	SweepBatch      int
	Clock           Clock
}

// InviteInput 是邀请参数，Role 为空时按项目成员身份推导。
type InviteInput struct {
	UserID uint
	Role   domain.Role
}

// JoinResult 是 Join 成功后返回给调用方的内容。
type JoinResult struct {
	Session     *domain.Session     `json:"session"`
	Participant *domain.Participant `json:"participant"`
	Credential  *domain.Credential  `json:"credential"`
}

// MediaChange 修改自己的音视频开关，nil 表示不修改。
type MediaChange struct {
	Audio *bool
	Video *bool
}

// ParticipantService 负责参与者生命周期、权限与凭证。
type ParticipantService struct {
	sessions     repository.SessionRepository
	participants repository.ParticipantRepository
	projects     repository.ProjectRepository
	issuer       CredentialIssuer
	notifier     Notifier
	locks        *SessionLocks
	cfg          ParticipantConfig
	now          Clock
}

// NewParticipantService 创建 ParticipantService 实例。
func NewParticipantService(
	sessions repository.SessionRepository,
	participants repository.ParticipantRepository,
	projects repository.ProjectRepository,
	issuer CredentialIssuer,
	notifier Notifier,
	locks *SessionLocks,
	cfg ParticipantConfig,
) *ParticipantService {
	if sessions == nil || participants == nil || projects == nil {
		panic("repositories cannot be nil for ParticipantService")
	}
	if issuer == nil {
		panic("CredentialIssuer cannot be nil for ParticipantService")
	}
	if notifier == nil || locks == nil {
		panic("notifier and locks cannot be nil for ParticipantService")
	}
	if cfg.CredentialTTL <= 0 {
		cfg.CredentialTTL = 2 * time.Hour
	}
	if cfg.CredentialGrace <= 0 {
		cfg.CredentialGrace = 2 * time.Minute
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = 5 * time.Minute
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 200
	}
	return &ParticipantService{
		sessions:     sessions,
		participants: participants,
		projects:     projects,
		issuer:       issuer,
		notifier:     notifier,
		locks:        locks,
		cfg:          cfg,
		now:          clockOrDefault(cfg.Clock),
	}
}

// Invite 主持人邀请项目成员加入尚未开始的私有会话。
func (s *ParticipantService) Invite(ctx context.Context, hostID uint, sessionID string, in InviteInput) (*domain.Participant, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": hostID, "target_user_id": in.UserID, "operation": "Invite"})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, hostID, domain.ActionInvite); err != nil {
		return nil, err
	}
	if session.Status != domain.SessionScheduled || !session.IsPrivate() {
		return nil, fmt.Errorf("invitations require a scheduled private session: %w", ErrInvalidState)
	}
	if in.UserID == hostID {
		return nil, fmt.Errorf("host cannot invite themselves: %w", ErrInvalidInput)
	}
	membership, err := membershipOf(ctx, s.projects, session.ProjectID, in.UserID)
	if err != nil {
		return nil, err
	}

	role := in.Role
	if role == "" {
		role = domain.EffectiveRole(membership.Role)
	}
	if !role.Valid() || role == domain.RoleHost {
		return nil, fmt.Errorf("role %q cannot be invited: %w", role, ErrInvalidInput)
	}

	existing, err := s.participants.Find(ctx, sessionID, in.UserID)
	switch {
	case err == nil && existing.InvitationStatus.IsActive():
		return nil, ErrDuplicateInvite
	case err == nil:
		existing.Role = role
		existing.InvitationStatus = domain.InvitationInvited
		existing.ApplyRoleDefaults()
		if _, err := s.participants.Update(ctx, existing); err != nil {
			return nil, s.internal(logCtx, err, "Failed to reactivate invitation")
		}
	case errors.Is(err, repository.ErrNotFound):
		existing = &domain.Participant{
			SessionID:        sessionID,
			UserID:           in.UserID,
			Role:             role,
			InvitationStatus: domain.InvitationInvited,
			InvitedBy:        hostID,
		}
		existing.ApplyRoleDefaults()
		if err := s.participants.Create(ctx, existing); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				return nil, ErrDuplicateInvite
			}
			return nil, s.internal(logCtx, err, "Failed to create invitation")
		}
	default:
		return nil, s.internal(logCtx, err, "Failed to load participant")
	}

	logCtx.WithField("role", role).Info("Participant invited")
	notifyUser(ctx, s.notifier, s.now, in.UserID, sessionID, domain.EventInvitationReceived, participantPayload(existing, session, ""))
	return existing, nil
}

// RespondInvitation 被邀请者接受或拒绝邀请。
func (s *ParticipantService) RespondInvitation(ctx context.Context, userID uint, sessionID string, accept bool) (*domain.Participant, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "operation": "RespondInvitation"})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, invalidTransition("respond to an invitation of", session.Status)
	}
	p, err := s.find(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if p.InvitationStatus != domain.InvitationInvited {
		return nil, fmt.Errorf("invitation is %s: %w", p.InvitationStatus, ErrInvalidState)
	}
	if accept {
		p.InvitationStatus = domain.InvitationAccepted
	} else {
		p.InvitationStatus = domain.InvitationDeclined
	}
	if _, err := s.participants.Update(ctx, p); err != nil {
		return nil, s.internal(logCtx, err, "Failed to save invitation response")
	}
	logCtx.WithField("accepted", accept).Info("Invitation answered")
	return p, nil
}

// Join 让有资格的用户进入 ACTIVE 会话：签发凭证后在一个事务内写入授权、置为在线并递增人数。
// 凭证签发失败时不会写入参与记录；参与者编号在签发前分配，失败会留下编号空洞，编号只保证唯一递增。
func (s *ParticipantService) Join(ctx context.Context, userID uint, sessionID string) (*JoinResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "operation": "Join"})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionActive {
		return nil, ErrSessionNotActive
	}

	grant, role, err := s.standing(ctx, session, userID)
	if err != nil {
		return nil, err
	}

	number, err := s.sessions.NextParticipantNumber(ctx, sessionID)
	if err != nil {
		return nil, s.internal(logCtx, err, "Failed to allocate participant number")
	}
	cred, err := s.issuer.Issue(ctx, domain.CredentialRequest{
		RoomName:          session.RoomName,
		ParticipantNumber: number,
		Identity:          strconv.FormatUint(uint64(userID), 10),
		Role:              domain.MediaRole(role),
		TTL:               s.cfg.CredentialTTL,
	})
	if err != nil {
		logCtx.WithError(err).Error("Credential issuer failed during join")
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}

	updated, p, err := s.participants.MarkOnline(ctx, repository.OnlineChange{
		SessionID:           sessionID,
		UserID:              userID,
		ParticipantNumber:   number,
		CredentialToken:     cred.Token,
		CredentialExpiresAt: cred.ExpiresAt,
		At:                  s.now(),
		Grant:               grant,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, s.joinConflict(ctx, sessionID, userID)
		}
		return nil, s.internal(logCtx, err, "Failed to mark participant online")
	}

	logCtx.WithFields(logrus.Fields{"participant_number": number, "count": updated.CurrentParticipants}).Info("Participant joined")
	broadcast(ctx, s.notifier, s.now, updated, domain.EventParticipantJoined, participantPayload(p, updated, ""))
	return &JoinResult{Session: updated, Participant: p, Credential: cred}, nil
}

// standing 判断用户是否可以直接进入。已接受的记录直接使用；公开会话的项目成员在首次加入时获得授权。
// 返回的 grant 非空时需要在上线前写入。
func (s *ParticipantService) standing(ctx context.Context, session *domain.Session, userID uint) (*domain.Participant, domain.Role, error) {
	p, err := s.participants.Find(ctx, session.ID, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logrus.WithFields(logrus.Fields{"session_id": session.ID, "user_id": userID}).WithError(err).Error("Failed to load participant")
		return nil, "", ErrInternalServer
	}
	if p != nil {
		if p.InvitationStatus == domain.InvitationRemoved {
			return nil, "", fmt.Errorf("participant was removed: %w", ErrForbidden)
		}
		if p.Online {
			return nil, "", ErrAlreadyInSession
		}
		if p.InvitationStatus == domain.InvitationAccepted {
			return nil, p.Role, nil
		}
	}

	if session.IsPrivate() {
		return nil, "", fmt.Errorf("no accepted invitation or approved request: %w", ErrForbidden)
	}
	membership, err := membershipOf(ctx, s.projects, session.ProjectID, userID)
	if err != nil {
		if errors.Is(err, ErrNotProjectMember) {
			return nil, "", fmt.Errorf("not a project member: %w", ErrForbidden)
		}
		return nil, "", err
	}
	role := domain.EffectiveRole(membership.Role)
	if p != nil && p.InvitationStatus == domain.InvitationInvited {
		role = p.Role
	}
	grant := &domain.Participant{SessionID: session.ID, UserID: userID, Role: role, InvitedBy: session.HostID}
	grant.ApplyRoleDefaults()
	return grant, role, nil
}

func (s *ParticipantService) joinConflict(ctx context.Context, sessionID string, userID uint) error {
	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return err
	}
	if session.Status != domain.SessionActive {
		return ErrSessionNotActive
	}
	if p, err := s.participants.Find(ctx, sessionID, userID); err == nil && p.Online {
		return ErrAlreadyInSession
	}
	return fmt.Errorf("participant cannot join: %w", ErrForbidden)
}

// Leave 参与者离开会话。主持人必须先移交主持人或结束会话。
func (s *ParticipantService) Leave(ctx context.Context, userID uint, sessionID string) (*domain.Participant, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "operation": "Leave"})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	p, err := s.participants.Find(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotInSession
		}
		return nil, s.internal(logCtx, err, "Failed to load participant")
	}
	if p.IsHost() {
		return nil, ErrCannotRemoveHost
	}
	if !p.Online {
		return nil, ErrNotInSession
	}

	updated, p, err := s.participants.MarkOffline(ctx, sessionID, userID, "", s.now())
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) || errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotInSession
		}
		return nil, s.internal(logCtx, err, "Failed to mark participant offline")
	}

	logCtx.WithField("count", updated.CurrentParticipants).Info("Participant left")
	broadcast(ctx, s.notifier, s.now, updated, domain.EventParticipantLeft, participantPayload(p, updated, "left"))
	return p, nil
}

// Remove 主持人把参与者移出会话，被移除者不能再次加入。
func (s *ParticipantService) Remove(ctx context.Context, hostID uint, sessionID string, targetID uint) error {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": hostID, "target_user_id": targetID, "operation": "Remove"})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return err
	}
	if err := authorize(session, hostID, domain.ActionManagePeers); err != nil {
		return err
	}
	if targetID == session.HostID {
		return ErrCannotRemoveHost
	}
	p, err := s.find(ctx, sessionID, targetID)
	if err != nil {
		return err
	}
	if p.InvitationStatus == domain.InvitationRemoved && !p.Online {
		logCtx.Debug("Participant already removed")
		return nil
	}

	updated, p, err := s.participants.MarkOffline(ctx, sessionID, targetID, domain.InvitationRemoved, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrParticipantNotFound
		}
		return s.internal(logCtx, err, "Failed to remove participant")
	}

	logCtx.Info("Participant removed")
	payload := participantPayload(p, updated, "removed_by_host")
	broadcast(ctx, s.notifier, s.now, updated, domain.EventParticipantRemoved, payload)
	notifyUser(ctx, s.notifier, s.now, targetID, sessionID, domain.EventParticipantRemoved, payload)
	return nil
}

// UpdatePermissions 主持人调整其他参与者的角色或控制标志。
// 角色变更先重置为默认标志，再应用显式的标志修改。
func (s *ParticipantService) UpdatePermissions(ctx context.Context, hostID uint, sessionID string, targetID uint, change domain.PermissionChange) (*domain.Participant, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": hostID, "target_user_id": targetID, "operation": "UpdatePermissions"})

	if change.Empty() {
		return nil, fmt.Errorf("no permission change given: %w", ErrInvalidInput)
	}
	if change.Role != nil && (!change.Role.Valid() || *change.Role == domain.RoleHost) {
		return nil, fmt.Errorf("role %q cannot be assigned: %w", *change.Role, ErrInvalidInput)
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, hostID, domain.ActionManagePeers); err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, invalidTransition("change permissions in", session.Status)
	}
	if targetID == session.HostID {
		return nil, fmt.Errorf("host permissions cannot be changed: %w", ErrForbidden)
	}
	p, err := s.find(ctx, sessionID, targetID)
	if err != nil {
		return nil, err
	}

	if change.Role != nil {
		p.Role = *change.Role
		p.ApplyRoleDefaults()
	}
	if change.CanControlPlayback != nil {
		p.CanControlPlayback = *change.CanControlPlayback
	}
	if change.CanApproveFiles != nil {
		p.CanApproveFiles = *change.CanApproveFiles
	}
	if !domain.Can(p.Role, domain.ActionPublishMedia) {
		p.AudioEnabled = false
		p.VideoEnabled = false
	}

	updated, err := s.participants.Update(ctx, p)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, s.internal(logCtx, err, "Failed to update permissions")
	}

	logCtx.WithField("role", p.Role).Info("Participant permissions updated")
	broadcast(ctx, s.notifier, s.now, updated, domain.EventPermissionsChanged, participantPayload(p, updated, ""))
	return p, nil
}

// TransferHost 把主持人角色移交给另一名已接受的参与者，原主持人降为 elevated。
func (s *ParticipantService) TransferHost(ctx context.Context, hostID uint, sessionID string, toUserID uint) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": hostID, "target_user_id": toUserID, "operation": "TransferHost"})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if err := authorize(session, hostID, domain.ActionManageSession); err != nil {
		return nil, err
	}
	if session.Status.IsTerminal() {
		return nil, invalidTransition("transfer host of", session.Status)
	}
	if toUserID == hostID {
		return nil, fmt.Errorf("already host: %w", ErrInvalidInput)
	}

	updated, err := s.participants.TransferHost(ctx, sessionID, hostID, toUserID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrParticipantNotFound
		case errors.Is(err, repository.ErrStateConflict):
			return nil, fmt.Errorf("target has not accepted: %w", ErrInvalidState)
		}
		return nil, s.internal(logCtx, err, "Failed to transfer host")
	}

	logCtx.Info("Host transferred")
	broadcast(ctx, s.notifier, s.now, updated, domain.EventHostTransferred, domain.HostTransferredPayload{FromUserID: hostID, ToUserID: toUserID})
	return updated, nil
}

// SetMedia 修改自己的音视频开关，打开任一路需要 publish_media 权限。
func (s *ParticipantService) SetMedia(ctx context.Context, userID uint, sessionID string, change MediaChange) (*domain.Participant, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "operation": "SetMedia"})

	if change.Audio == nil && change.Video == nil {
		return nil, fmt.Errorf("no media change given: %w", ErrInvalidInput)
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	p, err := s.participants.Find(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotInSession
		}
		return nil, s.internal(logCtx, err, "Failed to load participant")
	}
	if !p.Online {
		return nil, ErrNotInSession
	}
	enabling := (change.Audio != nil && *change.Audio) || (change.Video != nil && *change.Video)
	if enabling && !p.Allows(domain.ActionPublishMedia) {
		return nil, ErrForbidden
	}
	if change.Audio != nil {
		p.AudioEnabled = *change.Audio
	}
	if change.Video != nil {
		p.VideoEnabled = *change.Video
	}

	updated, err := s.participants.Update(ctx, p)
	if err != nil {
		return nil, s.internal(logCtx, err, "Failed to update media flags")
	}
	broadcast(ctx, s.notifier, s.now, updated, domain.EventMediaChanged, participantPayload(p, updated, ""))
	return p, nil
}

// RefreshCredential 在凭证即将或已经过期时重新签发，只有参与者本人可以调用。
// 剩余有效期仍然充足时返回现有凭证。
func (s *ParticipantService) RefreshCredential(ctx context.Context, callerID uint, sessionID string, targetID uint) (*domain.Credential, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": callerID, "operation": "RefreshCredential"})

	if callerID != targetID {
		return nil, ErrForbidden
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != domain.SessionActive && session.Status != domain.SessionPaused {
		return nil, ErrSessionNotActive
	}
	p, err := s.participants.Find(ctx, sessionID, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotInSession
		}
		return nil, s.internal(logCtx, err, "Failed to load participant")
	}
	if !p.Online {
		return nil, ErrNotInSession
	}

	now := s.now()
	if p.CredentialToken != "" && p.CredentialExpiresAt != nil && p.CredentialExpiresAt.Sub(now) > s.cfg.RefreshWindow {
		return &domain.Credential{Token: p.CredentialToken, ExpiresAt: *p.CredentialExpiresAt}, nil
	}

	cred, err := s.issuer.Issue(ctx, domain.CredentialRequest{
		RoomName:          session.RoomName,
		ParticipantNumber: p.ParticipantNumber,
		Identity:          strconv.FormatUint(uint64(targetID), 10),
		Role:              domain.MediaRole(p.Role),
		TTL:               s.cfg.CredentialTTL,
	})
	if err != nil {
		logCtx.WithError(err).Error("Credential issuer failed during refresh")
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}
	if _, err := s.participants.UpdateCredential(ctx, sessionID, targetID, cred.Token, cred.ExpiresAt); err != nil {
		return nil, s.internal(logCtx, err, "Failed to store refreshed credential")
	}
	logCtx.WithField("expires_at", cred.ExpiresAt).Info("Credential refreshed")
	return cred, nil
}

// List 列出会话参与者，onlineOnly 为 true 时只返回在线者。
func (s *ParticipantService) List(ctx context.Context, userID uint, sessionID string, onlineOnly bool) ([]domain.Participant, error) {
	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ensureVisible(ctx, s.participants, s.projects, userID, session); err != nil {
		return nil, err
	}
	list, err := s.participants.ListBySession(ctx, sessionID, onlineOnly)
	if err != nil {
		return nil, s.internal(logrus.WithField("session_id", sessionID), err, "Failed to list participants")
	}
	return list, nil
}

// Get 返回单个参与者
func (s *ParticipantService) Get(ctx context.Context, userID uint, sessionID string, targetID uint) (*domain.Participant, error) {
	session, err := loadSession(ctx, s.sessions, sessionID)
	if err != nil {
		return nil, err
	}
	if err := ensureVisible(ctx, s.participants, s.projects, userID, session); err != nil {
		return nil, err
	}
	return s.find(ctx, sessionID, targetID)
}

// ExpireStaleCredentials 把凭证过期超过宽限期仍在线的参与者置为离线，返回处理数量。
func (s *ParticipantService) ExpireStaleCredentials(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.CredentialGrace)
	stale, err := s.participants.ListStaleOnline(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		logrus.WithError(err).Error("Failed to list stale participants")
		return 0, ErrInternalServer
	}

	expired := 0
	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if s.expireOne(ctx, p.SessionID, p.UserID, cutoff) {
			expired++
		}
	}
	return expired, nil
}

func (s *ParticipantService) expireOne(ctx context.Context, sessionID string, userID uint, cutoff time.Time) bool {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID, "operation": "ExpireStaleCredentials"})

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	// 加锁后重新检查，期间可能已经刷新凭证或离开
	p, err := s.participants.Find(ctx, sessionID, userID)
	if err != nil || !p.Online || p.CredentialExpiresAt == nil || !p.CredentialExpiresAt.Before(cutoff) {
		logCtx.Debug("Participant no longer stale, skipping")
		return false
	}
	updated, p, err := s.participants.MarkOffline(ctx, sessionID, userID, "", s.now())
	if err != nil {
		if errors.Is(err, repository.ErrStateConflict) || errors.Is(err, repository.ErrNotFound) {
			logCtx.Debug("Participant already offline")
		} else {
			logCtx.WithError(err).Warn("Failed to expire participant")
		}
		return false
	}
	logCtx.Info("Participant taken offline after credential expiry")
	broadcast(ctx, s.notifier, s.now, updated, domain.EventParticipantLeft, participantPayload(p, updated, "credential_expired"))
	return true
}

func (s *ParticipantService) find(ctx context.Context, sessionID string, userID uint) (*domain.Participant, error) {
	p, err := s.participants.Find(ctx, sessionID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrParticipantNotFound
		}
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID}).WithError(err).Error("Failed to load participant")
		return nil, ErrInternalServer
	}
	return p, nil
}

func (s *ParticipantService) internal(logCtx *logrus.Entry, err error, msg string) error {
	logCtx.WithError(err).Error(msg)
	return ErrInternalServer
}
