package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
	"live-session/internal/repository"
)

// createScript 仅当 pair 上没有存活申请时写入新申请。
// 已过期但仍在保留期内的旧申请会被替换，其 id 索引一并删除。
var createScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'expires_at_ms')
if cur and tonumber(cur) > tonumber(ARGV[4]) then
  return 0
end
local old = redis.call('HGET', KEYS[1], 'id')
if old then
  redis.call('DEL', ARGV[6] .. old)
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'expires_at_ms', ARGV[2], 'payload', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
redis.call('SET', KEYS[2], KEYS[1], 'PX', ARGV[5])
return 1
`)

// deleteScript 删除 id 索引与 pair 记录，只有真正删除的调用者得到 1。
var deleteScript = redis.NewScript(`
local pair = redis.call('GET', KEYS[1])
if not pair then
  return 0
end
redis.call('DEL', KEYS[1])
if redis.call('HGET', pair, 'id') == ARGV[1] then
  redis.call('DEL', pair)
end
return 1
`)

// claimWarningScript 在 pair 上设置 warned_at_ms，已设置或申请已被替换时返回 0。
var claimWarningScript = redis.NewScript(`
local pair = redis.call('GET', KEYS[1])
if not pair then
  return 0
end
if redis.call('HGET', pair, 'id') ~= ARGV[1] then
  return 0
end
return redis.call('HSETNX', pair, 'warned_at_ms', ARGV[2])
`)

// RedisJoinRequestStore 是 JoinRequestStore 的 Redis 实现。
//
// 布局:
//
//	{prefix}joinreq:s:{sessionID}:u:{userID}  hash: id, expires_at_ms, payload, warned_at_ms
//	{prefix}joinreq:id:{requestID}            string: pair key
//
// Redis TTL = 申请时长 + retention，保证过期调度器在保留期内仍能观察并通知已过期的申请。
type RedisJoinRequestStore struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
	scanCount int64
}

// NewRedisJoinRequestStore 创建 RedisJoinRequestStore 实例
func NewRedisJoinRequestStore(client *redis.Client, keyPrefix string, retention time.Duration) *RedisJoinRequestStore {
	if client == nil {
		panic("redis client cannot be nil for RedisJoinRequestStore")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisJoinRequestStore{client: client, keyPrefix: keyPrefix, retention: retention, scanCount: 100}
}

func (s *RedisJoinRequestStore) pairKey(sessionID string, userID uint) string {
	return fmt.Sprintf("%sjoinreq:s:%s:u:%d", s.keyPrefix, sessionID, userID)
}

func (s *RedisJoinRequestStore) idKeyPrefix() string {
	return s.keyPrefix + "joinreq:id:"
}

func (s *RedisJoinRequestStore) idKey(requestID string) string {
	return s.idKeyPrefix() + requestID
}

// Create 原子地写入申请
func (s *RedisJoinRequestStore) Create(ctx context.Context, req *domain.JoinRequest) (bool, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("redis: failed to marshal join request %s: %w", req.ID, err)
	}
	ttl := req.ExpiresAt.Sub(req.CreatedAt) + s.retention
	if ttl <= 0 {
		return false, fmt.Errorf("redis: join request %s already expired at creation", req.ID)
	}

	res, err := createScript.Run(ctx, s.client,
		[]string{s.pairKey(req.SessionID, req.UserID), s.idKey(req.ID)},
		req.ID,
		req.ExpiresAt.UnixMilli(),
		string(payload),
		req.CreatedAt.UnixMilli(),
		ttl.Milliseconds(),
		s.idKeyPrefix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis: failed to create join request %s: %w", req.ID, err)
	}
	return res == 1, nil
}

// Get 按 ID 读取申请
func (s *RedisJoinRequestStore) Get(ctx context.Context, requestID string) (*domain.JoinRequest, error) {
	pair, err := s.client.Get(ctx, s.idKey(requestID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrJoinRequestNotFound
		}
		return nil, fmt.Errorf("redis: failed to resolve join request %s: %w", requestID, err)
	}
	req, err := s.readPair(ctx, pair)
	if err != nil {
		return nil, err
	}
	if req.ID != requestID {
		return nil, repository.ErrJoinRequestNotFound
	}
	return req, nil
}

// FindByPair 读取 (session, user) 的当前申请
func (s *RedisJoinRequestStore) FindByPair(ctx context.Context, sessionID string, userID uint) (*domain.JoinRequest, error) {
	return s.readPair(ctx, s.pairKey(sessionID, userID))
}

func (s *RedisJoinRequestStore) readPair(ctx context.Context, pairKey string) (*domain.JoinRequest, error) {
	vals, err := s.client.HMGet(ctx, pairKey, "payload", "expires_at_ms").Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read join request %s: %w", pairKey, err)
	}
	raw, ok := vals[0].(string)
	if !ok || raw == "" {
		return nil, repository.ErrJoinRequestNotFound
	}
	var req domain.JoinRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal join request %s: %w", pairKey, err)
	}
	// expires_at_ms 是权威的过期时间
	if ms, ok := vals[1].(string); ok {
		if v, err := strconv.ParseInt(ms, 10, 64); err == nil {
			req.ExpiresAt = time.UnixMilli(v).UTC()
		}
	}
	return &req, nil
}

// Delete 原子地删除申请
func (s *RedisJoinRequestStore) Delete(ctx context.Context, requestID string) (bool, error) {
	res, err := deleteScript.Run(ctx, s.client, []string{s.idKey(requestID)}, requestID).Int()
	if err != nil {
		return false, fmt.Errorf("redis: failed to delete join request %s: %w", requestID, err)
	}
	return res == 1, nil
}

// ClaimWarning 原子地占用申请的过期提醒
func (s *RedisJoinRequestStore) ClaimWarning(ctx context.Context, requestID string, at time.Time) (bool, error) {
	res, err := claimWarningScript.Run(ctx, s.client, []string{s.idKey(requestID)}, requestID, at.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: failed to claim warning for join request %s: %w", requestID, err)
	}
	return res == 1, nil
}

// ListBySession 扫描某会话的全部申请
func (s *RedisJoinRequestStore) ListBySession(ctx context.Context, sessionID string) ([]domain.JoinRequest, error) {
	return s.scan(ctx, fmt.Sprintf("%sjoinreq:s:%s:u:*", s.keyPrefix, sessionID))
}

// ListAll 扫描全部申请
func (s *RedisJoinRequestStore) ListAll(ctx context.Context) ([]domain.JoinRequest, error) {
	return s.scan(ctx, s.keyPrefix+"joinreq:s:*")
}

func (s *RedisJoinRequestStore) scan(ctx context.Context, match string) ([]domain.JoinRequest, error) {
	var (
		out    []domain.JoinRequest
		cursor uint64
	)
	seen := make(map[string]struct{})
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, s.scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: failed to scan %s: %w", match, err)
		}
		for _, key := range keys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			req, err := s.readPair(ctx, key)
			if err != nil {
				if errors.Is(err, repository.ErrJoinRequestNotFound) {
					continue // 扫描期间被删除
				}
				logrus.WithField("key", key).WithError(err).Warn("Skipping unreadable join request")
				continue
			}
			out = append(out, *req)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}
