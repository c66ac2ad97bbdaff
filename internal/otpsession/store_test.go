package otpsession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
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
	return New(rdb, "ca", 10*time.Minute), mr
}

func pending(id string) Session {
	return Session{
		ID:        id,
		Email:     "p@x.com",
		Role:      "patient",
		OTPExpiry: time.Now().Add(5 * time.Minute),
		Pending:   true,
	}
}

func TestCreateGetDelete(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, pending("s1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if ttl := mr.TTL("ca:otps:s1"); ttl != 10*time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Pending || got.Verified || got.Email != "p@x.com" || got.AttemptCount != 0 || got.ResendCount != 0 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.OTPExpiry.IsZero() {
		t.Fatal("expected otp expiry hint")
	}

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for empty id, got %v", err)
	}
}

func TestReserveAttemptBoundsConcurrentGuesses(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Create(ctx, pending("s1"))

	const maxAttempts = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		granted   []int
		exhausted int
	)
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			n, err := store.ReserveAttempt(ctx, "s1", maxAttempts)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				granted = append(granted, n)
			case errors.Is(err, ErrAttemptsExhausted):
				exhausted++
			default:
				t.Errorf("reserve: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(granted) != maxAttempts || exhausted != 20-maxAttempts {
		t.Fatalf("expected %d grants and %d refusals, got %d and %d", maxAttempts, 20-maxAttempts, len(granted), exhausted)
	}
	seen := make(map[int]bool)
	for _, n := range granted {
		if n < 1 || n > maxAttempts || seen[n] {
			t.Fatalf("attempt numbers must be distinct within 1..%d, got %v", maxAttempts, granted)
		}
		seen[n] = true
	}
	got, _ := store.Get(ctx, "s1")
	if got.AttemptCount != maxAttempts {
		t.Fatalf("counter must stop at the budget, got %d", got.AttemptCount)
	}
}

func TestReserveAttemptStates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := store.ReserveAttempt(ctx, "ghost", 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reserve on missing session must not create it, got %v", err)
	}
	if _, err := store.Get(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ghost to stay missing, got %v", err)
	}

	_ = store.Create(ctx, pending("s1"))
	_ = store.MarkVerified(ctx, "s1")
	if _, err := store.ReserveAttempt(ctx, "s1", 5); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestResendBudget(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	_ = store.Create(ctx, pending("s1"))
	_, _ = store.ReserveAttempt(ctx, "s1", 5)
	mr.FastForward(5 * time.Minute)

	for want := 1; want <= 3; want++ {
		n, err := store.Resend(ctx, "s1", 3, time.Now().Add(5*time.Minute))
		if err != nil {
			t.Fatalf("resend %d: %v", want, err)
		}
		if n != want {
			t.Fatalf("expected resend count %d, got %d", want, n)
		}
	}
	got, _ := store.Get(ctx, "s1")
	if got.AttemptCount != 0 {
		t.Fatalf("resend must reset attempts, got %d", got.AttemptCount)
	}
	if ttl := mr.TTL("ca:otps:s1"); ttl != 10*time.Minute {
		t.Fatalf("resend must re-arm ttl, got %v", ttl)
	}

	if _, err := store.Resend(ctx, "s1", 3, time.Now()); !errors.Is(err, ErrResendLimit) {
		t.Fatalf("expected ErrResendLimit, got %v", err)
	}
	if _, err := store.Resend(ctx, "ghost", 3, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkVerifiedLeavesTombstone(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_ = store.Create(ctx, pending("s1"))
	_, _ = store.ReserveAttempt(ctx, "s1", 5)

	if err := store.MarkVerified(ctx, "s1"); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Verified || got.Pending || got.AttemptCount != 0 || !got.OTPExpiry.IsZero() {
		t.Fatalf("unexpected tombstone: %+v", got)
	}
	if got.Email != "p@x.com" {
		t.Fatalf("tombstone should keep email, got %q", got.Email)
	}

	if _, err := store.Resend(ctx, "s1", 3, time.Now()); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	if err := store.MarkVerified(ctx, "s1"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("second mark verified must lose, got %v", err)
	}
	if err := store.MarkVerified(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
