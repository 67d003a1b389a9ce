package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// GormParticipantRepository 是 ParticipantRepository 接口的 GORM 实现
type GormParticipantRepository struct {
	db *gorm.DB
}

// NewGormParticipantRepository 创建 GormParticipantRepository 实例
func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	if db == nil {
		panic("database connection cannot be nil for GormParticipantRepository")
	}
	return &GormParticipantRepository{db: db}
}

func findParticipant(tx *gorm.DB, sessionID string, userID uint) (*domain.Participant, error) {
	var p domain.Participant
	err := tx.Where("session_id = ? AND user_id = ?", sessionID, userID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("gorm: find participant (session %s, user %d): %w", sessionID, userID, err)
	}
	return &p, nil
}

// bumpVersion 递增会话版本号并返回最新的会话
func bumpVersion(tx *gorm.DB, sessionID string) (*domain.Session, error) {
	err := tx.Model(&domain.Session{}).Where("id = ?", sessionID).
		Update("version", gorm.Expr("version + 1")).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: bump version of session %s: %w", sessionID, err)
	}
	return reloadSession(tx, sessionID)
}

// Find 查找参与记录
func (r *GormParticipantRepository) Find(ctx context.Context, sessionID string, userID uint) (*domain.Participant, error) {
	return findParticipant(r.db.WithContext(ctx), sessionID, userID)
}

// ListBySession 列出会话的参与记录
func (r *GormParticipantRepository) ListBySession(ctx context.Context, sessionID string, onlineOnly bool) ([]domain.Participant, error) {
	var participants []domain.Participant
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if onlineOnly {
		q = q.Where("online = ?", true)
	}
	if err := q.Order("id ASC").Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("gorm: list participants of session %s: %w", sessionID, err)
	}
	return participants, nil
}

// Create 新建参与记录
func (r *GormParticipantRepository) Create(ctx context.Context, participant *domain.Participant) error {
	err := r.db.WithContext(ctx).Create(participant).Error
	if err != nil {
		if isDuplicateEntryError(err) {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create participant (session %s, user %d): %w", participant.SessionID, participant.UserID, err)
	}
	return nil
}

// Grant 写入或重新激活一条已接受的参与记录
func (r *GormParticipantRepository) Grant(ctx context.Context, participant *domain.Participant) (*domain.Participant, error) {
	var out *domain.Participant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockSession(tx, participant.SessionID); err != nil {
			return err
		}
		var err error
		out, err = grantTx(tx, participant)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// grantTx 在已持有会话行锁的事务内写入授权
func grantTx(tx *gorm.DB, participant *domain.Participant) (*domain.Participant, error) {
	existing, err := findParticipant(tx, participant.SessionID, participant.UserID)
	switch {
	case errors.Is(err, repository.ErrParticipantNotFound):
		participant.InvitationStatus = domain.InvitationAccepted
		participant.ApplyRoleDefaults()
		if err := tx.Create(participant).Error; err != nil {
			return nil, fmt.Errorf("gorm: create granted participant: %w", err)
		}
		return participant, nil
	case err != nil:
		return nil, err
	}

	if existing.InvitationStatus == domain.InvitationAccepted {
		return existing, nil
	}
	existing.Role = participant.Role
	existing.InvitationStatus = domain.InvitationAccepted
	if participant.InvitedBy != 0 {
		existing.InvitedBy = participant.InvitedBy
	}
	existing.ApplyRoleDefaults()
	err = tx.Model(existing).
		Select("role", "invitation_status", "invited_by", "audio_enabled", "video_enabled", "can_control_playback", "can_approve_files").
		Updates(existing).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: reactivate participant %d: %w", existing.ID, err)
	}
	return existing, nil
}

// Update 保存角色、邀请状态与控制标志
func (r *GormParticipantRepository) Update(ctx context.Context, participant *domain.Participant) (*domain.Session, error) {
	var out *domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockSession(tx, participant.SessionID); err != nil {
			return err
		}
		res := tx.Model(participant).
			Select("role", "invitation_status", "audio_enabled", "video_enabled", "can_control_playback", "can_approve_files").
			Updates(participant)
		if res.Error != nil {
			return fmt.Errorf("gorm: update participant %d: %w", participant.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrParticipantNotFound
		}
		var err error
		out, err = bumpVersion(tx, participant.SessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkOnline 在同一事务中完成上线与计数
func (r *GormParticipantRepository) MarkOnline(ctx context.Context, change repository.OnlineChange) (*domain.Session, *domain.Participant, error) {
	var (
		session     *domain.Session
		participant *domain.Participant
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := lockSession(tx, change.SessionID)
		if err != nil {
			return err
		}
		if cur.Status != domain.SessionActive {
			return fmt.Errorf("session %s is %s: %w", cur.ID, cur.Status, repository.ErrStateConflict)
		}
		if change.Grant != nil {
			if _, err := grantTx(tx, change.Grant); err != nil {
				return err
			}
		}

		res := tx.Model(&domain.Participant{}).
			Where("session_id = ? AND user_id = ? AND online = ? AND invitation_status = ?",
				change.SessionID, change.UserID, false, domain.InvitationAccepted).
			Updates(map[string]interface{}{
				"online":                true,
				"joined_at":             change.At,
				"left_at":               nil,
				"participant_number":    change.ParticipantNumber,
				"credential_token":      change.CredentialToken,
				"credential_expires_at": change.CredentialExpiresAt,
			})
		if res.Error != nil {
			return fmt.Errorf("gorm: mark participant online: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("participant %d not joinable: %w", change.UserID, repository.ErrStateConflict)
		}

		err = tx.Model(&domain.Session{}).Where("id = ?", change.SessionID).Updates(map[string]interface{}{
			"current_participants": gorm.Expr("current_participants + 1"),
			"last_activity_at":     change.At,
			"version":              gorm.Expr("version + 1"),
		}).Error
		if err != nil {
			return fmt.Errorf("gorm: increment participants of %s: %w", change.SessionID, err)
		}

		if session, err = reloadSession(tx, change.SessionID); err != nil {
			return err
		}
		participant, err = findParticipant(tx, change.SessionID, change.UserID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return session, participant, nil
}

// MarkOffline 在同一事务中完成下线与计数
func (r *GormParticipantRepository) MarkOffline(ctx context.Context, sessionID string, userID uint, status domain.InvitationStatus, at time.Time) (*domain.Session, *domain.Participant, error) {
	var (
		session     *domain.Session
		participant *domain.Participant
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockSession(tx, sessionID); err != nil {
			return err
		}
		p, err := findParticipant(tx, sessionID, userID)
		if err != nil {
			return err
		}
		if !p.Online && status == "" {
			return fmt.Errorf("participant %d already offline: %w", userID, repository.ErrStateConflict)
		}

		updates := map[string]interface{}{}
		if status != "" {
			updates["invitation_status"] = status
		}
		if p.Online {
			updates["online"] = false
			updates["left_at"] = at
			updates["accumulated_seconds"] = gorm.Expr("accumulated_seconds + ?", elapsedSeconds(p.JoinedAt, at))
		}
		res := tx.Model(&domain.Participant{}).Where("id = ? AND online = ?", p.ID, p.Online).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("gorm: mark participant %d offline: %w", p.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrStateConflict
		}

		sessionUpdates := map[string]interface{}{"version": gorm.Expr("version + 1")}
		if p.Online {
			sessionUpdates["current_participants"] = gorm.Expr("CASE WHEN current_participants > 0 THEN current_participants - 1 ELSE 0 END")
			sessionUpdates["last_activity_at"] = at
		}
		if err := tx.Model(&domain.Session{}).Where("id = ?", sessionID).Updates(sessionUpdates).Error; err != nil {
			return fmt.Errorf("gorm: decrement participants of %s: %w", sessionID, err)
		}

		if session, err = reloadSession(tx, sessionID); err != nil {
			return err
		}
		participant, err = findParticipant(tx, sessionID, userID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return session, participant, nil
}

// UpdateCredential 替换凭证
func (r *GormParticipantRepository) UpdateCredential(ctx context.Context, sessionID string, userID uint, token string, expiresAt time.Time) (*domain.Participant, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&domain.Participant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Updates(map[string]interface{}{"credential_token": token, "credential_expires_at": expiresAt})
	if res.Error != nil {
		return nil, fmt.Errorf("gorm: update credential (session %s, user %d): %w", sessionID, userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, repository.ErrParticipantNotFound
	}
	return findParticipant(db, sessionID, userID)
}

// TransferHost 移交主持人角色，原主持人降为 elevated
func (r *GormParticipantRepository) TransferHost(ctx context.Context, sessionID string, fromUserID, toUserID uint, at time.Time) (*domain.Session, error) {
	var out *domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		if cur.HostID != fromUserID {
			return fmt.Errorf("user %d is not host of %s: %w", fromUserID, sessionID, repository.ErrStateConflict)
		}
		from, err := findParticipant(tx, sessionID, fromUserID)
		if err != nil {
			return err
		}
		to, err := findParticipant(tx, sessionID, toUserID)
		if err != nil {
			return err
		}
		if to.InvitationStatus != domain.InvitationAccepted {
			return fmt.Errorf("participant %d not accepted: %w", toUserID, repository.ErrStateConflict)
		}

		from.Role = domain.RoleElevated
		from.ApplyRoleDefaults()
		to.Role = domain.RoleHost
		to.ApplyRoleDefaults()
		for _, p := range []*domain.Participant{from, to} {
			err := tx.Model(p).
				Select("role", "audio_enabled", "video_enabled", "can_control_playback", "can_approve_files").
				Updates(p).Error
			if err != nil {
				return fmt.Errorf("gorm: update role of participant %d: %w", p.ID, err)
			}
		}

		err = tx.Model(&domain.Session{}).Where("id = ?", sessionID).Updates(map[string]interface{}{
			"host_id":          toUserID,
			"last_activity_at": at,
			"version":          gorm.Expr("version + 1"),
		}).Error
		if err != nil {
			return fmt.Errorf("gorm: update host of session %s: %w", sessionID, err)
		}
		out, err = reloadSession(tx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListStaleOnline 列出凭证早已过期的在线参与者
func (r *GormParticipantRepository) ListStaleOnline(ctx context.Context, cutoff time.Time, limit int) ([]domain.Participant, error) {
	var participants []domain.Participant
	q := r.db.WithContext(ctx).
		Where("online = ? AND credential_expires_at IS NOT NULL AND credential_expires_at < ?", true, cutoff).
		Order("credential_expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("gorm: list stale online participants: %w", err)
	}
	return participants, nil
}

// HasJoined 用户是否在项目的任一会话中成功加入过
func (r *GormParticipantRepository) HasJoined(ctx context.Context, projectID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Participant{}).
		Joins("JOIN sessions ON sessions.id = participants.session_id").
		Where("sessions.project_id = ? AND participants.user_id = ? AND participants.joined_at IS NOT NULL", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: check join history (project %d, user %d): %w", projectID, userID, err)
	}
	return count > 0, nil
}
