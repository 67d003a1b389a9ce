package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"live-session/internal/domain"
	"live-session/internal/repository"
	"live-session/internal/repository/mocks"
	"live-session/internal/service"
)

type admissionFixture struct {
	*env
	owner, member uint
	session       *domain.Session
}

func newAdmissionFixture(t *testing.T, opts ...envOption) *admissionFixture {
	e := newEnv(t, opts...)
	owner, member := e.user(t, "owner"), e.user(t, "member")
	project := e.project(t, owner, map[uint]domain.ProjectRole{member: domain.ProjectMember})
	s := e.activeSession(t, owner, project.ID, domain.VisibilityPrivate)
	e.notifier.reset()
	return &admissionFixture{env: e, owner: owner, member: member, session: s}
}

func (f *admissionFixture) request(t *testing.T) *domain.JoinRequest {
	t.Helper()
	res, err := f.admissionSvc.RequestJoin(context.Background(), f.member, f.session.ID, "conn-1")
	require.NoError(t, err)
	require.Equal(t, domain.AdmissionPending, res.Outcome)
	require.NotNil(t, res.Request)
	return res.Request
}

func TestAdmissionService_RequestJoinNotifiesHost(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()

	req := f.request(t)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), req.ExpiresAt)
	assert.Equal(t, "User member", req.DisplayName)
	assert.Equal(t, domain.RoleStandard, req.RequestedRole)

	created := f.notifier.ofType(domain.EventJoinRequestCreated)
	require.Len(t, created, 1)
	assert.Equal(t, f.owner, created[0].UserID)
	var payload domain.JoinRequestPayload
	require.NoError(t, json.Unmarshal(created[0].Event.Payload, &payload))
	assert.Equal(t, req.ID, payload.RequestID)
	assert.Equal(t, int64(300), payload.RemainingSeconds)

	_, err := f.admissionSvc.RequestJoin(ctx, f.member, f.session.ID, "conn-2")
	assert.ErrorIs(t, err, service.ErrDuplicateRequest)
}

func TestAdmissionService_OneLiveRequestUnderConcurrency(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.admissionSvc.RequestJoin(ctx, f.member, f.session.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, service.ErrDuplicateRequest):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
	assert.Equal(t, 9, rejected)

	pending, err := f.admissionSvc.ListPending(ctx, f.owner, f.session.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestAdmissionService_RequestJoinValidation(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	stranger := f.user(t, "stranger")

	_, err := f.admissionSvc.RequestJoin(ctx, stranger, f.session.ID, "")
	assert.ErrorIs(t, err, service.ErrNotProjectMember)

	_, err = f.admissionSvc.RequestJoin(ctx, f.member, "missing", "")
	assert.ErrorIs(t, err, service.ErrSessionNotFound)

	_, err = f.sessionSvc.End(ctx, domain.UserActor(f.owner), f.session.ID)
	require.NoError(t, err)
	_, err = f.admissionSvc.RequestJoin(ctx, f.member, f.session.ID, "")
	assert.ErrorIs(t, err, service.ErrInvalidState)
}

func TestAdmissionService_PublicSessionRequiresProjectMembership(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, member, stranger := e.user(t, "owner"), e.user(t, "member"), e.user(t, "stranger")
	project := e.project(t, owner, map[uint]domain.ProjectRole{member: domain.ProjectMember})
	s := e.activeSession(t, owner, project.ID, domain.VisibilityPublic)

	res, err := e.admissionSvc.RequestJoin(ctx, member, s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionAutoApproved, res.Outcome)

	_, err = e.admissionSvc.RequestJoin(ctx, stranger, s.ID, "")
	assert.ErrorIs(t, err, service.ErrNotProjectMember, "no effective role without project membership")
	_, err = e.participantSvc.Join(ctx, stranger, s.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)

	pending, err := e.admissionSvc.ListPending(ctx, owner, s.ID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAdmissionService_AutoApprovesAcceptedInvitation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, member := e.user(t, "owner"), e.user(t, "member")
	project := e.project(t, owner, map[uint]domain.ProjectRole{member: domain.ProjectMember})
	s := e.session(t, owner, project.ID, domain.VisibilityPrivate)
	e.invited(t, owner, s.ID, member)
	_, err := e.sessionSvc.Start(ctx, domain.UserActor(owner), s.ID)
	require.NoError(t, err)
	e.notifier.reset()

	res, err := e.admissionSvc.RequestJoin(ctx, member, s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionAutoApproved, res.Outcome)
	assert.Nil(t, res.Request)
	assert.Empty(t, e.notifier.ofType(domain.EventJoinRequestCreated), "no host round-trip")

	_, err = e.requests.FindByPair(ctx, s.ID, member)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	_, err = e.participantSvc.Join(ctx, member, s.ID)
	assert.NoError(t, err)
}

func TestAdmissionService_PriorJoinPolicy(t *testing.T) {
	e := newEnv(t, withPolicy(service.PolicyPriorJoin))
	ctx := context.Background()
	owner, member := e.user(t, "owner"), e.user(t, "member")
	project := e.project(t, owner, map[uint]domain.ProjectRole{member: domain.ProjectMember})

	earlier := e.activeSession(t, owner, project.ID, domain.VisibilityPublic)
	_, err := e.participantSvc.Join(ctx, member, earlier.ID)
	require.NoError(t, err)

	later := e.activeSession(t, owner, project.ID, domain.VisibilityPrivate)
	res, err := e.admissionSvc.RequestJoin(ctx, member, later.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionAutoApproved, res.Outcome)
}

func TestAdmissionService_NoAutoApprovePolicy(t *testing.T) {
	e := newEnv(t, withPolicy(service.PolicyNone))
	ctx := context.Background()
	owner, member := e.user(t, "owner"), e.user(t, "member")
	project := e.project(t, owner, map[uint]domain.ProjectRole{member: domain.ProjectMember})
	s := e.session(t, owner, project.ID, domain.VisibilityPrivate)
	e.invited(t, owner, s.ID, member)

	res, err := e.admissionSvc.RequestJoin(ctx, member, s.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.AdmissionPending, res.Outcome)
	assert.True(t, res.Request.ReturningMember)
}

func TestNewAutoApprovePolicy_UnknownName(t *testing.T) {
	_, err := service.NewAutoApprovePolicy("friends_of_host", nil)
	assert.Error(t, err)
	_, err = service.NewAutoApprovePolicy(service.PolicyPriorJoin, nil)
	assert.Error(t, err)
	p, err := service.NewAutoApprovePolicy("", nil)
	require.NoError(t, err)
	assert.Equal(t, service.PolicyAcceptedInvitation, p.Name())
}

func TestAdmissionService_ApproveThenJoin(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	req := f.request(t)

	_, err := f.admissionSvc.Approve(ctx, f.member, req.ID)
	assert.ErrorIs(t, err, service.ErrForbidden, "requester cannot approve")

	_, err = f.admissionSvc.Approve(ctx, f.owner, req.ID)
	require.NoError(t, err)

	approved := f.notifier.ofType(domain.EventJoinRequestApproved)
	require.Len(t, approved, 1)
	assert.Equal(t, f.member, approved[0].UserID)

	_, err = f.admissionSvc.Approve(ctx, f.owner, req.ID)
	assert.ErrorIs(t, err, service.ErrJoinRequestNotFound, "already resolved")

	res, err := f.participantSvc.Join(ctx, f.member, f.session.ID)
	require.NoError(t, err)
	assert.True(t, res.Participant.Online)
	assert.True(t, res.Participant.CredentialValid(f.clock.Now()))
	assert.Equal(t, domain.InvitationAccepted, res.Participant.InvitationStatus)
}

func TestAdmissionService_RejectLeavesNothing(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	req := f.request(t)

	_, err := f.admissionSvc.Reject(ctx, f.owner, req.ID, "session is full")
	require.NoError(t, err)

	_, err = f.participants.Find(ctx, f.session.ID, f.member)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.requests.Get(ctx, req.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.requests.FindByPair(ctx, f.session.ID, f.member)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	rejected := f.notifier.ofType(domain.EventJoinRequestRejected)
	require.Len(t, rejected, 1)
	var payload domain.JoinRequestPayload
	require.NoError(t, json.Unmarshal(rejected[0].Event.Payload, &payload))
	assert.Equal(t, "session is full", payload.Reason)
	assert.False(t, payload.RetryAllowed)

	_, err = f.participantSvc.Join(ctx, f.member, f.session.ID)
	assert.ErrorIs(t, err, service.ErrForbidden)
}

func TestAdmissionService_CancelOwnRequestOnly(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	req := f.request(t)

	assert.ErrorIs(t, f.admissionSvc.Cancel(ctx, f.owner, req.ID), service.ErrForbidden)
	require.NoError(t, f.admissionSvc.Cancel(ctx, f.member, req.ID))
	assert.ErrorIs(t, f.admissionSvc.Cancel(ctx, f.member, req.ID), service.ErrJoinRequestNotFound)

	cancelled := f.notifier.ofType(domain.EventJoinRequestCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, f.owner, cancelled[0].UserID)
}

func TestAdmissionService_ApproveCancelRace(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := newAdmissionFixture(t)
		ctx := context.Background()
		req := f.request(t)

		var (
			wg                    sync.WaitGroup
			approveErr, cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, approveErr = f.admissionSvc.Approve(ctx, f.owner, req.ID)
		}()
		go func() {
			defer wg.Done()
			cancelErr = f.admissionSvc.Cancel(ctx, f.member, req.ID)
		}()
		wg.Wait()

		if approveErr == nil {
			require.ErrorIs(t, cancelErr, service.ErrJoinRequestNotFound)
			_, err := f.participants.Find(ctx, f.session.ID, f.member)
			assert.NoError(t, err)
		} else {
			require.ErrorIs(t, approveErr, service.ErrJoinRequestNotFound)
			require.NoError(t, cancelErr)
			_, err := f.participants.Find(ctx, f.session.ID, f.member)
			assert.ErrorIs(t, err, repository.ErrNotFound, "cancelled request must not yield a participant")
		}
	}
}

func TestAdmissionService_SweepWarnsOnce(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	f.request(t)

	f.clock.Advance(4*time.Minute + 10*time.Second) // 50s remaining
	stats, err := f.admissionSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Warned)

	warnings := f.notifier.ofType(domain.EventJoinRequestExpiring)
	require.Len(t, warnings, 2)
	recipients := []uint{warnings[0].UserID, warnings[1].UserID}
	assert.ElementsMatch(t, []uint{f.member, f.owner}, recipients)

	f.clock.Advance(10 * time.Second) // 40s remaining
	stats, err = f.admissionSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Warned)
	assert.Len(t, f.notifier.ofType(domain.EventJoinRequestExpiring), 2)
}

func TestAdmissionService_SweepLogsMissingHostOnWarning(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	f.request(t)

	hook := logtest.NewGlobal()
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		logrus.SetLevel(level)
		logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))
	})

	require.NoError(t, f.db.Unscoped().Where("id = ?", f.session.ID).Delete(&domain.Session{}).Error)

	f.clock.Advance(4*time.Minute + 10*time.Second) // 50s remaining
	stats, err := f.admissionSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Warned)

	warnings := f.notifier.ofType(domain.EventJoinRequestExpiring)
	require.Len(t, warnings, 1)
	assert.Equal(t, f.member, warnings[0].UserID)

	var traced bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.DebugLevel && entry.Message == "Session gone, host not warned of expiry" {
			traced = true
			assert.Equal(t, f.session.ID, entry.Data["session_id"])
		}
	}
	assert.True(t, traced, "missing host warning leaves a debug trace")
}

func TestAdmissionService_SweepWarnsOnceAcrossInstances(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	f.request(t)

	// 第二个实例共享同一个协调存储，调度时间与第一个错开
	other := service.NewAdmissionService(f.sessions, f.participants, f.projects, f.users, f.requests, nil, f.notifier, service.AdmissionConfig{
		RequestTTL:       5 * time.Minute,
		WarningThreshold: time.Minute,
		Clock:            f.clock.Now,
	})

	f.clock.Advance(4*time.Minute + 2*time.Second) // 58s remaining
	stats, err := f.admissionSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Warned)

	f.clock.Advance(7 * time.Second) // 51s remaining
	stats, err = other.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Warned)

	warnings := f.notifier.ofType(domain.EventJoinRequestExpiring)
	require.Len(t, warnings, 2, "one warning to the host and one to the requester")
	assert.ElementsMatch(t, []uint{f.member, f.owner}, []uint{warnings[0].UserID, warnings[1].UserID})
}

func TestAdmissionService_SweepWarnsWhenFirstSeenLate(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	f.request(t)

	f.clock.Advance(4*time.Minute + 40*time.Second) // 20s remaining, earlier sweeps missed
	stats, err := f.admissionSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Warned)
	assert.Len(t, f.notifier.ofType(domain.EventJoinRequestExpiring), 2)

	f.clock.Advance(5 * time.Second)
	stats, err = f.admissionSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Warned)
}

func TestAdmissionService_SweepExpiresRequests(t *testing.T) {
	f := newAdmissionFixture(t)
	ctx := context.Background()
	req := f.request(t)

	f.clock.Advance(5 * time.Minute)
	_, err := f.admissionSvc.Approve(ctx, f.owner, req.ID)
	assert.ErrorIs(t, err, service.ErrJoinRequestNotFound, "expired requests cannot be approved")

	stats, err := f.admissionSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)

	expired := f.notifier.ofType(domain.EventJoinRequestExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, f.member, expired[0].UserID)
	var payload domain.JoinRequestPayload
	require.NoError(t, json.Unmarshal(expired[0].Event.Payload, &payload))
	assert.True(t, payload.RetryAllowed)

	removed := f.notifier.ofType(domain.EventJoinRequestRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, f.owner, removed[0].UserID)

	stats, err = f.admissionSvc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Expired, "second sweep finds nothing")

	// 过期后允许重新申请
	again := f.request(t)
	assert.NotEqual(t, req.ID, again.ID)
}

func TestAdmissionService_StoreRefusesCreate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, member := e.user(t, "owner"), e.user(t, "member")
	project := e.project(t, owner, map[uint]domain.ProjectRole{member: domain.ProjectMember})
	s := e.activeSession(t, owner, project.ID, domain.VisibilityPrivate)

	store := new(mocks.JoinRequestStore)
	store.On("FindByPair", mock.Anything, s.ID, member).Return(nil, repository.ErrJoinRequestNotFound).Once()
	store.On("Create", mock.Anything, mock.AnythingOfType("*domain.JoinRequest")).Return(false, nil).Once()

	svc := service.NewAdmissionService(e.sessions, e.participants, e.projects, e.users, store, nil, e.notifier, service.AdmissionConfig{Clock: e.clock.Now})
	_, err := svc.RequestJoin(ctx, member, s.ID, "")
	assert.ErrorIs(t, err, service.ErrDuplicateRequest)
	store.AssertExpectations(t)
}

func TestAdmissionService_DeleteLostRaceReportsNotFound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner, member := e.user(t, "owner"), e.user(t, "member")
	project := e.project(t, owner, map[uint]domain.ProjectRole{member: domain.ProjectMember})
	s := e.activeSession(t, owner, project.ID, domain.VisibilityPrivate)

	req := &domain.JoinRequest{ID: "r-1", SessionID: s.ID, UserID: member, RequestedRole: domain.RoleStandard,
		CreatedAt: e.clock.Now(), ExpiresAt: e.clock.Now().Add(5 * time.Minute)}
	store := new(mocks.JoinRequestStore)
	store.On("Get", mock.Anything, "r-1").Return(req, nil).Once()
	store.On("Delete", mock.Anything, "r-1").Return(false, nil).Once()

	svc := service.NewAdmissionService(e.sessions, e.participants, e.projects, e.users, store, nil, e.notifier, service.AdmissionConfig{Clock: e.clock.Now})
	_, err := svc.Approve(ctx, owner, "r-1")
	assert.ErrorIs(t, err, service.ErrJoinRequestNotFound)

	_, err = e.participants.Find(ctx, s.ID, member)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	store.AssertExpectations(t)
}
