package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestWindow(t *testing.T, cfg Config) (*Window, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewWindow(rdb, "reset", cfg), mr
}

func TestWindowEnforcesIdentifierBudget(t *testing.T) {
	l, mr := newTestWindow(t, Config{EnableIdentifierThrottle: true, MaxAttempts: 2, Cooldown: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Enforce(ctx, "patient", "A@x.io", ""); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if err := l.Enforce(ctx, "patient", "a@x.io", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if err := l.Enforce(ctx, "doctor", "a@x.io", ""); err != nil {
		t.Fatalf("other role must have its own budget: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Enforce(ctx, "patient", "a@x.io", ""); err != nil {
		t.Fatalf("window should have reset: %v", err)
	}
}

func TestWindowIPBudget(t *testing.T) {
	l, _ := newTestWindow(t, Config{EnableIPThrottle: true, MaxAttempts: 1, Cooldown: time.Minute})
	ctx := context.Background()

	if err := l.Enforce(ctx, "patient", "a@x.io", "10.0.0.1"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := l.Enforce(ctx, "patient", "b@x.io", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ip limit, got %v", err)
	}
}

func TestWindowNilAndUnavailable(t *testing.T) {
	var nilWindow *Window
	if err := nilWindow.Enforce(context.Background(), "patient", "a", "ip"); err != nil {
		t.Fatalf("nil limiter must not limit: %v", err)
	}

	l, mr := newTestWindow(t, Config{EnableIdentifierThrottle: true, MaxAttempts: 1, Cooldown: time.Minute})
	mr.Close()
	if err := l.Enforce(context.Background(), "patient", "a", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
