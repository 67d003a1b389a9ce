package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"live-session/internal/domain"
	gormpersistence "live-session/internal/infra/persistence/gorm"
	"live-session/internal/infra/setup"
	redisstate "live-session/internal/infra/state/redis"
	"live-session/internal/service"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeClock 是可以手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type delivery struct {
	SessionID string
	UserID    uint
	Event     domain.Event
}

// recorder 记录所有通知，实现 service.Notifier
type recorder struct {
	mu     sync.Mutex
	events []delivery
}

func (r *recorder) Broadcast(_ context.Context, sessionID string, evt domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, delivery{SessionID: sessionID, Event: evt})
	r.mu.Unlock()
}

func (r *recorder) SendToUser(_ context.Context, userID uint, evt domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, delivery{UserID: userID, Event: evt})
	r.mu.Unlock()
}

func (r *recorder) ofType(typ domain.EventType) []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []delivery
	for _, d := range r.events {
		if d.Event.Type == typ {
			out = append(out, d)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// fakeIssuer 按时钟签发可预测的凭证
type fakeIssuer struct {
	clock *fakeClock
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeIssuer) Issue(_ context.Context, req domain.CredentialRequest) (*domain.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Credential{
		Token:     fmt.Sprintf("%s/%d/%s/%d", req.RoomName, req.ParticipantNumber, req.Role, f.calls),
		ExpiresAt: f.clock.Now().Add(req.TTL),
	}, nil
}

func (f *fakeIssuer) failWith(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeIssuer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type env struct {
	db       *gorm.DB
	mr       *miniredis.Miniredis
	clock    *fakeClock
	notifier *recorder
	issuer   *fakeIssuer

	users        *gormpersistence.GormUserRepository
	projects     *gormpersistence.GormProjectRepository
	sessions     *gormpersistence.GormSessionRepository
	participants *gormpersistence.GormParticipantRepository
	requests     *redisstate.RedisJoinRequestStore

	sessionSvc     *service.SessionService
	participantSvc *service.ParticipantService
	admissionSvc   *service.AdmissionService
	interactionSvc *service.InteractionService
	projectSvc     *service.ProjectService
}

type envOption func(*service.AdmissionConfig, *string)

func withPolicy(name string) envOption {
	return func(_ *service.AdmissionConfig, policy *string) { *policy = name }
}

func newEnv(t *testing.T, opts ...envOption) *env {
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
	require.NoError(t, setup.MigrateDB(db))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	e := &env{
		db:           db,
		mr:           mr,
		clock:        &fakeClock{now: t0},
		notifier:     &recorder{},
		users:        gormpersistence.NewGormUserRepository(db),
		projects:     gormpersistence.NewGormProjectRepository(db),
		sessions:     gormpersistence.NewGormSessionRepository(db),
		participants: gormpersistence.NewGormParticipantRepository(db),
		requests:     redisstate.NewRedisJoinRequestStore(client, "test:", 2*time.Minute),
	}
	e.issuer = &fakeIssuer{clock: e.clock}

	admissionCfg := service.AdmissionConfig{
		RequestTTL:       5 * time.Minute,
		WarningThreshold: time.Minute,
		Clock:            e.clock.Now,
	}
	policyName := service.PolicyAcceptedInvitation
	for _, opt := range opts {
		opt(&admissionCfg, &policyName)
	}
	policy, err := service.NewAutoApprovePolicy(policyName, e.participants)
	require.NoError(t, err)

	locks := service.NewSessionLocks()
	e.sessionSvc = service.NewSessionService(e.sessions, e.participants, e.projects, e.requests, e.notifier, locks, service.SessionConfig{
		MaxActivePerProject: 3,
		InactivityThreshold: 30 * time.Minute,
		Clock:               e.clock.Now,
	})
	e.participantSvc = service.NewParticipantService(e.sessions, e.participants, e.projects, e.issuer, e.notifier, locks, service.ParticipantConfig{
		CredentialTTL:   time.Hour,
		CredentialGrace: 2 * time.Minute,
		RefreshWindow:   5 * time.Minute,
		Clock:           e.clock.Now,
	})
	e.admissionSvc = service.NewAdmissionService(e.sessions, e.participants, e.projects, e.users, e.requests, policy, e.notifier, admissionCfg)
	e.interactionSvc = service.NewInteractionService(e.sessions, e.participants, e.notifier, locks, e.clock.Now)
	e.projectSvc = service.NewProjectService(e.projects, e.users)
	return e
}

func (e *env) user(t *testing.T, name string) uint {
	t.Helper()
	u := &domain.User{Username: name, Password: "x", Email: name + "@example.com", DisplayName: "User " + name}
	require.NoError(t, e.users.Save(context.Background(), u))
	return u.ID
}

// project 创建项目，members 中的用户按给定角色加入
func (e *env) project(t *testing.T, ownerID uint, members map[uint]domain.ProjectRole) *domain.Project {
	t.Helper()
	ctx := context.Background()
	p, err := e.projectSvc.CreateProject(ctx, ownerID, "album")
	require.NoError(t, err)
	for userID, role := range members {
		_, err := e.projectSvc.AddMember(ctx, ownerID, p.ID, userID, role)
		require.NoError(t, err)
	}
	return p
}

func (e *env) session(t *testing.T, hostID, projectID uint, visibility domain.Visibility) *domain.Session {
	t.Helper()
	s, err := e.sessionSvc.Create(context.Background(), hostID, service.CreateSessionInput{
		ProjectID:  projectID,
		Title:      "tracking night",
		Visibility: visibility,
	})
	require.NoError(t, err)
	return s
}

func (e *env) activeSession(t *testing.T, hostID, projectID uint, visibility domain.Visibility) *domain.Session {
	t.Helper()
	s := e.session(t, hostID, projectID, visibility)
	s, err := e.sessionSvc.Start(context.Background(), domain.UserActor(hostID), s.ID)
	require.NoError(t, err)
	return s
}

// onlineCount 直接统计在线记录，用于校验计数不变量
func (e *env) onlineCount(t *testing.T, sessionID string) int {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&domain.Participant{}).Where("session_id = ? AND online = ?", sessionID, true).Count(&n).Error)
	return int(n)
}

func (e *env) reload(t *testing.T, sessionID string) *domain.Session {
	t.Helper()
	s, err := e.sessions.FindByID(context.Background(), sessionID)
	require.NoError(t, err)
	return s
}

// invited 让用户接受主持人的邀请
func (e *env) invited(t *testing.T, hostID uint, sessionID string, userID uint) {
	t.Helper()
	ctx := context.Background()
	_, err := e.participantSvc.Invite(ctx, hostID, sessionID, service.InviteInput{UserID: userID})
	require.NoError(t, err)
	_, err = e.participantSvc.RespondInvitation(ctx, userID, sessionID, true)
	require.NoError(t, err)
}
