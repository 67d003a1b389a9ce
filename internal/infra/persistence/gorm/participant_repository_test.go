package gormpersistence_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-session/internal/domain"
	gormpersistence "live-session/internal/infra/persistence/gorm"
	"live-session/internal/repository"
)

func setupActiveSession(t *testing.T) (*gormpersistence.GormSessionRepository, *gormpersistence.GormParticipantRepository) {
	t.Helper()
	db := newTestDB(t)
	sessions := gormpersistence.NewGormSessionRepository(db)
	participants := gormpersistence.NewGormParticipantRepository(db)
	project := seedProject(t, db, 1)
	require.NoError(t, sessions.Create(context.Background(), newSession("s1", project.ID, 1, domain.SessionActive), hostOf(1), 3))
	return sessions, participants
}

func onlineChange(uid uint, at time.Time) repository.OnlineChange {
	return repository.OnlineChange{
		SessionID: "s1", UserID: uid, ParticipantNumber: uint32(uid), CredentialToken: "tok",
		CredentialExpiresAt: at.Add(time.Hour), At: at,
	}
}

func TestGormParticipantRepository_OnlineOfflineKeepsCount(t *testing.T) {
	sessions, participants := setupActiveSession(t)
	ctx := context.Background()

	for uid := uint(2); uid <= 4; uid++ {
		_, err := participants.Grant(ctx, &domain.Participant{SessionID: "s1", UserID: uid, Role: domain.RoleStandard})
		require.NoError(t, err)
	}

	// 并发上线不能丢失计数
	var wg sync.WaitGroup
	for uid := uint(2); uid <= 4; uid++ {
		wg.Add(1)
		go func(uid uint) {
			defer wg.Done()
			_, _, err := participants.MarkOnline(ctx, onlineChange(uid, baseTime))
			assert.NoError(t, err)
		}(uid)
	}
	wg.Wait()

	s, err := sessions.FindByID(ctx, "s1")
	require.NoError(t, err)
	online, err := participants.ListBySession(ctx, "s1", true)
	require.NoError(t, err)
	assert.Equal(t, 3, s.CurrentParticipants)
	assert.Len(t, online, s.CurrentParticipants)

	// 已在线时再次上线被拒绝
	_, _, err = participants.MarkOnline(ctx, onlineChange(2, baseTime))
	assert.ErrorIs(t, err, repository.ErrStateConflict)

	s, p, err := participants.MarkOffline(ctx, "s1", 2, "", baseTime.Add(90*time.Second))
	require.NoError(t, err)
	assert.False(t, p.Online)
	assert.Equal(t, int64(90), p.AccumulatedSeconds)
	assert.Equal(t, 2, s.CurrentParticipants)

	_, _, err = participants.MarkOffline(ctx, "s1", 2, "", baseTime.Add(time.Hour))
	assert.ErrorIs(t, err, repository.ErrStateConflict)
}

func TestGormParticipantRepository_MarkOnline_RequiresActiveAndAccepted(t *testing.T) {
	sessions, participants := setupActiveSession(t)
	ctx := context.Background()

	require.NoError(t, participants.Create(ctx, &domain.Participant{
		SessionID: "s1", UserID: 2, Role: domain.RoleStandard, InvitationStatus: domain.InvitationInvited,
	}))
	_, _, err := participants.MarkOnline(ctx, onlineChange(2, baseTime))
	assert.ErrorIs(t, err, repository.ErrStateConflict)

	_, err = sessions.Transition(ctx, "s1", repository.StatusChange{
		From: []domain.SessionStatus{domain.SessionActive}, To: domain.SessionPaused, At: baseTime,
	})
	require.NoError(t, err)
	_, _, err = participants.MarkOnline(ctx, onlineChange(1, baseTime))
	assert.ErrorIs(t, err, repository.ErrStateConflict)
}

func TestGormParticipantRepository_MarkOffline_RemoveOfflineParticipant(t *testing.T) {
	sessions, participants := setupActiveSession(t)
	ctx := context.Background()
	_, err := participants.Grant(ctx, &domain.Participant{SessionID: "s1", UserID: 2, Role: domain.RoleStandard})
	require.NoError(t, err)

	before, err := sessions.FindByID(ctx, "s1")
	require.NoError(t, err)

	s, p, err := participants.MarkOffline(ctx, "s1", 2, domain.InvitationRemoved, baseTime)
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationRemoved, p.InvitationStatus)
	assert.Equal(t, 0, s.CurrentParticipants)
	assert.Equal(t, before.Version+1, s.Version)
}

func TestGormParticipantRepository_Grant(t *testing.T) {
	_, participants := setupActiveSession(t)
	ctx := context.Background()

	p, err := participants.Grant(ctx, &domain.Participant{SessionID: "s1", UserID: 2, Role: domain.RoleObserver})
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationAccepted, p.InvitationStatus)

	// 被移除的记录可以重新授权
	_, _, err = participants.MarkOffline(ctx, "s1", 2, domain.InvitationRemoved, baseTime)
	require.NoError(t, err)
	p, err = participants.Grant(ctx, &domain.Participant{SessionID: "s1", UserID: 2, Role: domain.RoleStandard})
	require.NoError(t, err)
	assert.Equal(t, domain.InvitationAccepted, p.InvitationStatus)
	assert.Equal(t, domain.RoleStandard, p.Role)
	assert.True(t, p.AudioEnabled)

	// 已接受的记录保持不变
	p, err = participants.Grant(ctx, &domain.Participant{SessionID: "s1", UserID: 2, Role: domain.RoleObserver})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStandard, p.Role)
}

func TestGormParticipantRepository_Create_Duplicate(t *testing.T) {
	_, participants := setupActiveSession(t)
	err := participants.Create(context.Background(), &domain.Participant{
		SessionID: "s1", UserID: 1, Role: domain.RoleStandard, InvitationStatus: domain.InvitationInvited,
	})
	assert.ErrorIs(t, err, repository.ErrDuplicateEntry)
}

func TestGormParticipantRepository_TransferHost(t *testing.T) {
	sessions, participants := setupActiveSession(t)
	ctx := context.Background()
	_, err := participants.Grant(ctx, &domain.Participant{SessionID: "s1", UserID: 2, Role: domain.RoleStandard})
	require.NoError(t, err)

	s, err := participants.TransferHost(ctx, "s1", 1, 2, baseTime)
	require.NoError(t, err)
	assert.Equal(t, uint(2), s.HostID)

	oldHost, err := participants.Find(ctx, "s1", 1)
	require.NoError(t, err)
	newHost, err := participants.Find(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleElevated, oldHost.Role)
	assert.Equal(t, domain.RoleHost, newHost.Role)

	_, err = participants.TransferHost(ctx, "s1", 1, 2, baseTime)
	assert.ErrorIs(t, err, repository.ErrStateConflict)

	got, err := sessions.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, uint(2), got.HostID)
}

func TestGormParticipantRepository_ListStaleOnlineAndHistory(t *testing.T) {
	sessions, participants := setupActiveSession(t)
	ctx := context.Background()
	_, _, err := participants.MarkOnline(ctx, onlineChange(1, baseTime))
	require.NoError(t, err)

	stale, err := participants.ListStaleOnline(ctx, baseTime.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, uint(1), stale[0].UserID)

	stale, err = participants.ListStaleOnline(ctx, baseTime.Add(30*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	s, err := sessions.FindByID(ctx, "s1")
	require.NoError(t, err)
	joined, err := participants.HasJoined(ctx, s.ProjectID, 1)
	require.NoError(t, err)
	assert.True(t, joined)
	joined, err = participants.HasJoined(ctx, s.ProjectID, 2)
	require.NoError(t, err)
	assert.False(t, joined)
}

func TestGormParticipantRepository_MarkOnline_WithGrant(t *testing.T) {
	sessions, participants := setupActiveSession(t)
	ctx := context.Background()

	change := onlineChange(2, baseTime)
	change.Grant = &domain.Participant{SessionID: "s1", UserID: 2, Role: domain.RoleStandard}
	s, p, err := participants.MarkOnline(ctx, change)
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.Equal(t, domain.InvitationAccepted, p.InvitationStatus)
	assert.Equal(t, 1, s.CurrentParticipants)

	stored, err := participants.Find(ctx, "s1", 2)
	require.NoError(t, err)
	assert.True(t, stored.AudioEnabled, "new grant gets role defaults")
	assert.False(t, stored.CanControlPlayback)

	// 上线失败时授权随事务回滚
	failing := onlineChange(3, baseTime)
	failing.Grant = &domain.Participant{SessionID: "s1", UserID: 4, Role: domain.RoleStandard}
	_, _, err = participants.MarkOnline(ctx, failing)
	assert.ErrorIs(t, err, repository.ErrStateConflict)
	_, err = participants.Find(ctx, "s1", 4)
	assert.ErrorIs(t, err, repository.ErrParticipantNotFound)

	cur, err := sessions.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, cur.CurrentParticipants)
}
