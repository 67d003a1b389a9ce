package redisstate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-session/internal/domain"
	redisstate "live-session/internal/infra/state/redis"
	"live-session/internal/repository"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*miniredis.Miniredis, *redisstate.RedisJoinRequestStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, redisstate.NewRedisJoinRequestStore(client, "test:", 2*time.Minute)
}

func request(id, sessionID string, userID uint, created time.Time) *domain.JoinRequest {
	return &domain.JoinRequest{
		ID:            id,
		SessionID:     sessionID,
		UserID:        userID,
		RequestedRole: domain.RoleStandard,
		CreatedAt:     created,
		ExpiresAt:     created.Add(5 * time.Minute),
	}
}

func TestRedisJoinRequestStore_CreateGetDelete(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	ok, err := store.Create(ctx, request("r1", "s1", 2, now))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, uint(2), got.UserID)
	assert.True(t, got.ExpiresAt.Equal(now.Add(5*time.Minute)))

	byPair, err := store.FindByPair(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, "r1", byPair.ID)

	deleted, err := store.Delete(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete must observe the record already gone")

	_, err = store.Get(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrJoinRequestNotFound)
	_, err = store.FindByPair(ctx, "s1", 2)
	assert.ErrorIs(t, err, repository.ErrJoinRequestNotFound)
}

func TestRedisJoinRequestStore_OneLiveRequestPerPair(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := store.Create(ctx, request(string(rune('a'+i)), "s1", 2, now))
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	list, err := store.ListBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRedisJoinRequestStore_ExpiredEntryCanBeReplaced(t *testing.T) {
	mr, store := newStore(t)
	ctx := context.Background()

	ok, err := store.Create(ctx, request("r1", "s1", 2, now))
	require.NoError(t, err)
	require.True(t, ok)

	// 还没过期时不能替换
	ok, err = store.Create(ctx, request("r2", "s1", 2, now.Add(4*time.Minute)))
	require.NoError(t, err)
	assert.False(t, ok)

	// 过期后仍在保留期内，可以被观察到，也可以被新申请替换
	mr.FastForward(6 * time.Minute)
	old, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, old.Expired(now.Add(6*time.Minute)))

	ok, err = store.Create(ctx, request("r2", "s1", 2, now.Add(6*time.Minute)))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Get(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrJoinRequestNotFound)
	deleted, err := store.Delete(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisJoinRequestStore_TTLIncludesRetention(t *testing.T) {
	mr, store := newStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, request("r1", "s1", 2, now))
	require.NoError(t, err)

	mr.FastForward(6 * time.Minute)
	_, err = store.Get(ctx, "r1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, "r1")
	assert.ErrorIs(t, err, repository.ErrJoinRequestNotFound)
}

func TestRedisJoinRequestStore_ListAll(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	for i, sid := range []string{"s1", "s1", "s2"} {
		_, err := store.Create(ctx, request(string(rune('x'+i)), sid, uint(i+1), now))
		require.NoError(t, err)
	}

	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	s1, err := store.ListBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, s1, 2)
}

func TestRedisJoinRequestStore_ClaimWarningOnce(t *testing.T) {
	_, store := newStore(t)
	ctx := context.Background()

	ok, err := store.Create(ctx, request("r1", "s1", 2, now))
	require.NoError(t, err)
	require.True(t, ok)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimWarning(ctx, "r1", now.Add(4*time.Minute))
			assert.NoError(t, err)
			if claimed {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	claimed, err := store.ClaimWarning(ctx, "missing", now)
	require.NoError(t, err)
	assert.False(t, claimed)

	// 删除后不能再占用
	_, err = store.Delete(ctx, "r1")
	require.NoError(t, err)
	claimed, err = store.ClaimWarning(ctx, "r1", now)
	require.NoError(t, err)
	assert.False(t, claimed)
}
