package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"congregation-admin-go/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const auditChannel = "audit_events"

// releaseScript deletes the lock only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore fans audit entries out over pub/sub and provides short-lived locks.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(opts *redis.Options) *RedisStore {
	rdb := redis.NewClient(opts)
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// AuditAppended publishes the entry for live event-stream subscribers.
func (s *RedisStore) AuditAppended(ctx context.Context, entry models.AuditLogEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		slog.Warn("failed to encode audit event", "error", err, "action", entry.Action)
		return
	}
	// The entry is already committed; a cancelled request must not drop the event.
	if err := s.client.Publish(context.WithoutCancel(ctx), auditChannel, data).Err(); err != nil {
		slog.Warn("failed to publish audit event", "error", err, "action", entry.Action)
	}
}

func (s *RedisStore) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, auditChannel)
}

// Stream delivers published audit entries as raw JSON until ctx ends or
// closeFn is called.
func (s *RedisStore) Stream(ctx context.Context) (events <-chan string, closeFn func() error) {
	pubsub := s.Subscribe(ctx)
	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close
}

// TryLock takes key for ttl. ok is false when another holder has it.
// release is safe to call more than once.
func (s *RedisStore) TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = s.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}

	return func() {
		if err := releaseScript.Run(context.WithoutCancel(ctx), s.client, []string{key}, token).Err(); err != nil {
			slog.Warn("failed to release lock", "key", key, "error", err)
		}
	}, true, nil
}
