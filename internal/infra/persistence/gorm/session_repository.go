package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// GormSessionRepository 是 SessionRepository 接口的 GORM 实现
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GormSessionRepository 实例
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// lockSession 在事务内以 SELECT ... FOR UPDATE 读取会话
func lockSession(tx *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: lock session %s: %w", id, err)
	}
	return &s, nil
}

// reloadSession 读取事务内的最新会话行
func reloadSession(tx *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	if err := tx.Where("id = ?", id).First(&s).Error; err != nil {
		return nil, fmt.Errorf("gorm: reload session %s: %w", id, err)
	}
	return &s, nil
}

// Create 在项目行锁内检查容量，然后写入会话与主持人记录
func (r *GormSessionRepository) Create(ctx context.Context, session *domain.Session, host *domain.Participant, maxActive int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var project domain.Project
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&project, session.ProjectID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repository.ErrProjectNotFound
			}
			return fmt.Errorf("gorm: lock project %d: %w", session.ProjectID, err)
		}

		if maxActive > 0 {
			var count int64
			err = tx.Model(&domain.Session{}).
				Where("project_id = ? AND status IN ?", session.ProjectID, domain.NonTerminalStatuses()).
				Count(&count).Error
			if err != nil {
				return fmt.Errorf("gorm: count active sessions for project %d: %w", session.ProjectID, err)
			}
			if count >= int64(maxActive) {
				return repository.ErrCapacity
			}
		}

		if err := tx.Create(session).Error; err != nil {
			if isDuplicateEntryError(err) {
				return repository.ErrDuplicateEntry
			}
			return fmt.Errorf("gorm: create session %s: %w", session.ID, err)
		}
		if host != nil {
			host.SessionID = session.ID
			if err := tx.Create(host).Error; err != nil {
				return fmt.Errorf("gorm: create host participant for session %s: %w", session.ID, err)
			}
		}
		return nil
	})
}

// FindByID 实现根据 ID 查找会话
func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by id %s: %w", id, err)
	}
	return &s, nil
}

// ListByProject 列出项目下的会话
func (r *GormSessionRepository) ListByProject(ctx context.Context, projectID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at DESC").Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list sessions by project %d: %w", projectID, err)
	}
	return sessions, nil
}

// ListByHost 列出用户主持的会话
func (r *GormSessionRepository) ListByHost(ctx context.Context, hostID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).Where("host_id = ?", hostID).Order("created_at DESC").Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list sessions by host %d: %w", hostID, err)
	}
	return sessions, nil
}

// ListIdle 列出可被自动结束的会话
func (r *GormSessionRepository) ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Session, error) {
	var sessions []domain.Session
	q := r.db.WithContext(ctx).
		Where("status = ? AND current_participants = 0 AND last_activity_at < ?", domain.SessionActive, cutoff).
		Order("last_activity_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("gorm: list idle sessions: %w", err)
	}
	return sessions, nil
}

// Transition 以条件更新完成状态迁移
func (r *GormSessionRepository) Transition(ctx context.Context, id string, change repository.StatusChange) (*domain.Session, error) {
	var out *domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := lockSession(tx, id)
		if err != nil {
			return err
		}

		q := tx.Model(&domain.Session{}).Where("id = ? AND status IN ?", id, change.From)
		if change.RequireIdleBefore != nil {
			q = q.Where("current_participants = 0 AND last_activity_at < ?", *change.RequireIdleBefore)
		}
		if change.RequireEmpty {
			q = q.Where("current_participants = 0")
		}

		updates := map[string]interface{}{
			"status":  change.To,
			"version": gorm.Expr("version + 1"),
		}
		switch {
		case change.To == domain.SessionActive:
			if cur.ActualStart == nil {
				updates["actual_start"] = change.At
			}
			updates["last_activity_at"] = change.At
		case change.To.IsTerminal():
			updates["actual_end"] = change.At
			updates["current_participants"] = 0
		default:
			updates["last_activity_at"] = change.At
		}

		res := q.Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("gorm: transition session %s to %s: %w", id, change.To, res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrStateConflict
		}

		if change.To.IsTerminal() {
			if err := takeAllOffline(tx, id, change.At); err != nil {
				return err
			}
		}

		out, err = reloadSession(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// takeAllOffline 把会话内所有在线参与者置为离线并累计时长
func takeAllOffline(tx *gorm.DB, sessionID string, at time.Time) error {
	var online []domain.Participant
	if err := tx.Where("session_id = ? AND online = ?", sessionID, true).Find(&online).Error; err != nil {
		return fmt.Errorf("gorm: list online participants of %s: %w", sessionID, err)
	}
	for _, p := range online {
		err := tx.Model(&domain.Participant{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"online":              false,
			"left_at":             at,
			"accumulated_seconds": gorm.Expr("accumulated_seconds + ?", elapsedSeconds(p.JoinedAt, at)),
		}).Error
		if err != nil {
			return fmt.Errorf("gorm: take participant %d offline: %w", p.ID, err)
		}
	}
	return nil
}

// SetCurrentAsset 更新当前播放素材
func (r *GormSessionRepository) SetCurrentAsset(ctx context.Context, id, assetID string, at time.Time) (*domain.Session, error) {
	var out *domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockSession(tx, id); err != nil {
			return err
		}
		res := tx.Model(&domain.Session{}).
			Where("id = ? AND status IN ?", id, []domain.SessionStatus{domain.SessionActive, domain.SessionPaused}).
			Updates(map[string]interface{}{
				"current_asset_id": assetID,
				"last_activity_at": at,
				"version":          gorm.Expr("version + 1"),
			})
		if res.Error != nil {
			return fmt.Errorf("gorm: set current asset of %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrStateConflict
		}
		var err error
		out, err = reloadSession(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NextParticipantNumber 原子地递增并返回会话的参与者编号
func (r *GormSessionRepository) NextParticipantNumber(ctx context.Context, id string) (uint32, error) {
	var next uint32
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Session{}).Where("id = ?", id).
			Update("participant_seq", gorm.Expr("participant_seq + 1"))
		if res.Error != nil {
			return fmt.Errorf("gorm: increment participant seq of %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return repository.ErrSessionNotFound
		}
		s, err := reloadSession(tx, id)
		if err != nil {
			return err
		}
		next = s.ParticipantSeq
		return nil
	})
	return next, err
}

// Delete 软删除终止状态的会话，参与记录一并软删除
func (r *GormSessionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		if !cur.Status.IsTerminal() {
			return repository.ErrStateConflict
		}
		if err := tx.Where("session_id = ?", id).Delete(&domain.Participant{}).Error; err != nil {
			return fmt.Errorf("gorm: delete participants of %s: %w", id, err)
		}
		if err := tx.Delete(cur).Error; err != nil {
			return fmt.Errorf("gorm: delete session %s: %w", id, err)
		}
		return nil
	})
}
