package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("keystore: key not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("keystore: backend unavailable")
)

// Store is the contract the session core consumes. Each operation is atomic
// at the single-key level; no cross-key transactions are required.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	SetTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Consume deletes key only if it still holds value and reports whether
	// this call removed it.
	Consume(ctx context.Context, key, value string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

const consumeScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var consumeLua = redis.NewScript(consumeScript)

// RedisStore implements Store with GET / SET PX / DEL and one Lua
// compare-and-delete for Consume.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore returns a Store whose keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get returns the stored value or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.redis.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return value, nil
}

// SetTTL writes value and (re-)arms its expiry.
func (s *RedisStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("keystore: ttl must be positive")
	}
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Consume removes key if its value is still value. Of several concurrent
// callers holding the same value at most one gets true.
func (s *RedisStore) Consume(ctx context.Context, key, value string) (bool, error) {
	n, err := consumeLua.Run(ctx, s.redis, []string{s.key(key)}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n == 1, nil
}

// TTL returns the remaining lifetime of key, or ErrNotFound.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.redis.PTTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if ttl < 0 {
		return 0, ErrNotFound
	}
	return ttl, nil
}

// OTPKey is the key under which a signup OTP for email is kept.
func OTPKey(role, email string) string {
	return "otp:" + role + ":email:" + email
}

// ResetKey is the key under which a password-reset token for email is kept.
func ResetKey(role, email string) string {
	return "reset:" + role + ":" + email
}
