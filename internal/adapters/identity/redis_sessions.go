package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"robolearn/internal/adapters/storage"
	domain "robolearn/internal/domain/identity"
)

const sessionKeyPrefix = "session:" // Hash: session:{token} -> session fields

// RedisSessionStore keeps sessions in Redis so several server processes can share them.
type RedisSessionStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisSessionStore connects to the Redis instance at rawURL (redis://[:password@]host:port/db).
// A nil clock means time.Now.
// PRE: rawURL is a valid redis URL
// POST: Returns a store whose connection has been pinged
func NewRedisSessionStore(ctx context.Context, rawURL string, now func() time.Time) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}
	return NewRedisSessionStoreFromClient(client, now), nil
}

// NewRedisSessionStoreFromClient wraps an existing client. A nil clock means time.Now.
func NewRedisSessionStoreFromClient(client *redis.Client, now func() time.Time) *RedisSessionStore {
	if now == nil {
		now = time.Now
	}
	return &RedisSessionStore{client: client, now: now}
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

// Create writes the session hash with a TTL matching its expiry.
// PRE: s.Token is non-empty
// POST: Session is stored and expires with the session, or ErrSessionExpired and nothing stored
func (r *RedisSessionStore) Create(ctx context.Context, s domain.Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return ErrSessionExpired
	}
	key := sessionKey(s.Token)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":    s.UserID,
		"email":      s.Email,
		"recovery":   strconv.FormatBool(s.Recovery),
		"created_at": storage.FormatTime(s.CreatedAt),
		"expires_at": storage.FormatTime(s.ExpiresAt),
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("redis_session_create_failed", "error", err)
		return fmt.Errorf("store session in redis: %w", err)
	}
	return nil
}

// Get reads a session hash. Redis expiry handles eviction.
// PRE: token is non-empty
// POST: Returns the session if present
func (r *RedisSessionStore) Get(ctx context.Context, token string) (domain.Session, bool, error) {
	data, err := r.client.HGetAll(ctx, sessionKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, fmt.Errorf("read session from redis: %w", err)
	}
	if len(data) == 0 {
		return domain.Session{}, false, nil
	}
	s := domain.Session{
		Token:  token,
		UserID: data["user_id"],
		Email:  data["email"],
	}
	s.Recovery, _ = strconv.ParseBool(data["recovery"])
	s.CreatedAt, _ = storage.ParseTime(data["created_at"])
	s.ExpiresAt, _ = storage.ParseTime(data["expires_at"])
	if s.IsExpired(r.now()) {
		return domain.Session{}, false, nil
	}
	return s, true, nil
}

// Delete removes a session.
// POST: Session key is gone
func (r *RedisSessionStore) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session from redis: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}
