package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"talk2chat/internal/entities"
	"talk2chat/internal/logging"
)

const (
	lockKeyPrefix   = "lock:session:"
	lockTTL         = 10 * time.Second
	lockRetryEvery  = 25 * time.Millisecond
	eventTopicRoot  = "talk2chat:events:"
	eventTopicMatch = eventTopicRoot + "*"
)

var ErrLockTimeout = errors.New("timed out waiting for lock")

func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker serializes session find-or-create across service instances.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, ttl: lockTTL}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(lockRetryEvery)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Released on a fresh context so a canceled request still frees the key.
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := releaseScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
					logging.Warn().Err(err).Str("key", key).Msg("release session lock")
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}
}

// TopicFor names the realtime topic an event belongs to.
func TopicFor(tenantID *string) string {
	if tenantID == nil {
		return "global"
	}
	return "tenant:" + *tenantID
}

// RedisBroker bridges realtime events between instances. Every instance
// publishes to the tenant's channel and relays everything it hears into its
// local hub.
type RedisBroker struct {
	client *redis.Client
	local  *Hub
}

func NewRedisBroker(client *redis.Client, local *Hub) *RedisBroker {
	return &RedisBroker{client: client, local: local}
}

func (b *RedisBroker) Publish(ctx context.Context, evt entities.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logging.Error().Err(err).Str("event", string(evt.Type)).Msg("marshal realtime event")
		return
	}
	if err := b.client.Publish(ctx, eventTopicRoot+TopicFor(evt.TenantID), payload).Err(); err != nil {
		// Fall back to local delivery so this instance's viewers still see it.
		logging.Warn().Err(err).Msg("redis publish failed, delivering locally")
		b.local.Publish(ctx, evt)
	}
}

// Run relays bridged events into the local hub until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, eventTopicMatch)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			evt, err := decodeBridgedEvent(msg.Channel, msg.Payload)
			if err != nil {
				logging.Warn().Err(err).Str("channel", msg.Channel).Msg("drop bridged event")
				continue
			}
			b.local.Publish(ctx, evt)
		}
	}
}

// decodeBridgedEvent rejects payloads whose tenant disagrees with the
// channel they arrived on.
func decodeBridgedEvent(channel, payload string) (entities.Event, error) {
	var evt entities.Event
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return evt, err
	}
	if topic := strings.TrimPrefix(channel, eventTopicRoot); topic != TopicFor(evt.TenantID) {
		return evt, fmt.Errorf("event for %s arrived on %s", TopicFor(evt.TenantID), topic)
	}
	return evt, nil
}
