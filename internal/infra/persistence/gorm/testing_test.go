package gormpersistence_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"live-session/internal/domain"
	"live-session/internal/infra/setup"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// newTestDB 打开一个独立的内存 SQLite 数据库并完成迁移
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
		Logger:  logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(setup.Models()...))
	return db
}

func seedProject(t *testing.T, db *gorm.DB, ownerID uint) *domain.Project {
	t.Helper()
	p := &domain.Project{Name: "mix review", OwnerID: ownerID}
	require.NoError(t, db.Create(p).Error)
	require.NoError(t, db.Create(&domain.ProjectMembership{ProjectID: p.ID, UserID: ownerID, Role: domain.ProjectOwner}).Error)
	return p
}

func newSession(id string, projectID, hostID uint, status domain.SessionStatus) *domain.Session {
	return &domain.Session{
		ID:             id,
		ProjectID:      projectID,
		HostID:         hostID,
		Title:          "session " + id,
		Visibility:     domain.VisibilityPrivate,
		Status:         status,
		LastActivityAt: baseTime,
		RoomName:       "room-" + id,
	}
}

func hostOf(hostID uint) *domain.Participant {
	p := &domain.Participant{UserID: hostID, Role: domain.RoleHost, InvitationStatus: domain.InvitationAccepted}
	p.ApplyRoleDefaults()
	return p
}
