package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"live-session/internal/domain"
)

// RedisStateRepository 是 StateRepository 接口的 Redis 实现，
// 负责限流计数与跨实例事件总线。
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// DefaultKeyPrefix 未配置前缀时使用
const DefaultKeyPrefix = "ls:"

// BusPattern 返回总线频道的订阅模式
func BusPattern(keyPrefix string) string {
	return keyPrefix + "bus:*"
}

// SessionChannel 会话广播频道
func SessionChannel(keyPrefix, sessionID string) string {
	return fmt.Sprintf("%sbus:session:%s", keyPrefix, sessionID)
}

// UserChannel 用户私有频道
func UserChannel(keyPrefix string, userID uint) string {
	return fmt.Sprintf("%sbus:user:%d", keyPrefix, userID)
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := r.keyPrefix + "ratelimit:" + key
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", fullKey, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: failed to get incr result for rate limit on key %s: %w", fullKey, err)
	}
	return count > int64(limit), nil
}

// PublishEvent 把事件发布到会话或用户频道
func (r *RedisStateRepository) PublishEvent(ctx context.Context, userID uint, evt domain.Event) error {
	channel := SessionChannel(r.keyPrefix, evt.SessionID)
	if userID != 0 {
		channel = UserChannel(r.keyPrefix, userID)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal event %s: %w", evt.Type, err)
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      channel,
			"payload_size": len(payload),
			"event_type":   evt.Type,
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish event to channel %s: %w", channel, err)
	}
	return nil
}

// SubscribeEvents 订阅总线，把每条事件交给 deliver，阻塞直到 ctx 结束。
// 会话频道上的事件 userID 为 0。
func (r *RedisStateRepository) SubscribeEvents(ctx context.Context, deliver func(userID uint, evt domain.Event)) error {
	pattern := BusPattern(r.keyPrefix)
	pubsub := r.client.PSubscribe(ctx, pattern)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: failed to subscribe to %s: %w", pattern, err)
	}
	logCtx := logrus.WithField("pattern", pattern)
	logCtx.Info("Subscribed to event bus")

	userPrefix := r.keyPrefix + "bus:user:"
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			logCtx.Info("Event bus subscription stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				logCtx.WithField("channel", msg.Channel).WithError(err).Warn("Dropping malformed bus message")
				continue
			}
			var userID uint
			if strings.HasPrefix(msg.Channel, userPrefix) {
				id, err := strconv.ParseUint(strings.TrimPrefix(msg.Channel, userPrefix), 10, 64)
				if err != nil || id == 0 {
					logCtx.WithField("channel", msg.Channel).Warn("Dropping bus message with invalid user channel")
					continue
				}
				userID = uint(id)
			}
			deliver(userID, evt)
		}
	}
}
