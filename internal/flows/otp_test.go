package flows

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/clinicAuth/ledger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDecideOTPGate(t *testing.T) {
	cases := []struct {
		name  string
		state OTPGateState
		want  OTPGateDecision
		clear bool
	}{
		{"no session", OTPGateState{}, OTPGateNoSession, false},
		{"verified tombstone", OTPGateState{SessionFound: true, Verified: true}, OTPGateVerified, false},
		{"not pending", OTPGateState{SessionFound: true}, OTPGateNoSession, false},
		{"code expired", OTPGateState{SessionFound: true, Pending: true}, OTPGateExpired, true},
		{"exhausted", OTPGateState{SessionFound: true, Pending: true, CodePresent: true, AttemptCount: 5}, OTPGateTooManyAttempts, true},
		{"allow", OTPGateState{SessionFound: true, Pending: true, CodePresent: true, AttemptCount: 4}, OTPGateAllow, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, clear := DecideOTPGate(tc.state, 5)
			if got != tc.want || clear != tc.clear {
				t.Fatalf("expected (%d,%v), got (%d,%v)", tc.want, tc.clear, got, clear)
			}
		})
	}
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
			t.Fatalf("bad code %q", code)
		}
		seen[code] = struct{}{}
	}
	if len(seen) < 40 {
		t.Fatalf("codes look non-random: %d distinct of 50", len(seen))
	}
	if _, err := GenerateCode(0); err == nil {
		t.Fatal("expected error for zero digits")
	}
}

func TestCodesEqual(t *testing.T) {
	if !CodesEqual("123456", "123456") {
		t.Fatal("expected match")
	}
	if CodesEqual("123456", "123457") || CodesEqual("12345", "123456") {
		t.Fatal("expected mismatch")
	}
	if CodesEqual("", "") {
		t.Fatal("empty stored code must never match")
	}
	if RemainingAttempts(3, 5) != 2 || RemainingAttempts(7, 5) != 0 {
		t.Fatal("unexpected remaining attempts")
	}
}

func TestRunLogoutByTokenAndFallback(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	store := ledger.NewRedisStore(rdb, "rt")
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	for _, r := range []ledger.Record{
		{Token: "a", UserID: "u", Role: "patient", Family: "f1", ExpiresAt: exp},
		{Token: "b", UserID: "u", Role: "patient", Family: "f2", ExpiresAt: exp},
	} {
		if err := store.Create(ctx, r); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	res := RunLogout(ctx, "patient", "u", "a", LogoutDeps{Ledger: store})
	if res.Err != nil || res.Family != "f1" || res.Revoked != 1 {
		t.Fatalf("unexpected logout result %+v", res)
	}
	if _, err := store.Get(ctx, "b"); err != nil {
		t.Fatalf("other device's family must survive: %v", err)
	}

	res = RunLogout(ctx, "patient", "u", "", LogoutDeps{Ledger: store})
	if res.Err != nil || res.Revoked != 1 {
		t.Fatalf("unexpected fallback result %+v", res)
	}
	if _, err := store.Get(ctx, "b"); !errors.Is(err, ledger.ErrRecordNotFound) {
		t.Fatalf("expected user families revoked, got %v", err)
	}
}
