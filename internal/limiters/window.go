package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("limiter redis unavailable")
)

// Config sets the budget of one limiter.
type Config struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	MaxAttempts              int
	Cooldown                 time.Duration
}

// Window counts requests per key in a fixed window that opens on the first
// hit.
type Window struct {
	redis  redis.UniversalClient
	scope  string
	config Config
}

// NewWindow creates a limiter whose keys live under scope, e.g. "signup".
func NewWindow(redisClient redis.UniversalClient, scope string, cfg Config) *Window {
	return &Window{
		redis:  redisClient,
		scope:  scope,
		config: cfg,
	}
}

// Enforce counts one request for (role, email) and ip and fails once either
// budget is exceeded.
func (l *Window) Enforce(ctx context.Context, role, email, ip string) error {
	if l == nil || l.config.MaxAttempts <= 0 {
		return nil
	}
	if l.config.EnableIdentifierThrottle {
		if err := l.enforceKey(ctx, l.identifierKey(role, email)); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceKey(ctx, l.ipKey(ip)); err != nil {
			return err
		}
	}
	return nil
}

// Cooldown is the window length.
func (l *Window) Cooldown() time.Duration {
	if l == nil {
		return 0
	}
	return l.config.Cooldown
}

func (l *Window) enforceKey(ctx context.Context, key string) error {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Cooldown).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}

	return nil
}

func (l *Window) identifierKey(role, email string) string {
	return "rl:" + l.scope + ":" + role + ":" + strings.ToLower(strings.TrimSpace(email))
}

func (l *Window) ipKey(ip string) string {
	return "rl:" + l.scope + "-ip:" + ip
}
