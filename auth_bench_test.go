package clinicAuth

import (
	"context"
	"testing"
)

func newBenchmarkEngine(b *testing.B) (*testEngine, TokenPair) {
	b.Helper()
	te := newTestEngine(b, func(cfg *Config) {
		cfg.Security.EnableRefreshThrottle = false
		cfg.Security.EnableLoginThrottle = false
		cfg.Metrics.EnableLatencyHistograms = true
	})
	te.seed(b, RolePatient, "bench@clinic.io", "correct-password-123")

	res, err := te.Login(context.Background(), RolePatient, "bench@clinic.io", "correct-password-123")
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}
	return te, res.Tokens
}

func BenchmarkAuthenticateAccess(b *testing.B) {
	te, pair := newBenchmarkEngine(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := te.Authenticate(ctx, RolePatient, pair.AccessToken, pair.RefreshToken); err != nil {
			b.Fatalf("authenticate failed: %v", err)
		}
	}
}

func BenchmarkIdentify(b *testing.B) {
	te, pair := newBenchmarkEngine(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := te.Identify(pair.AccessToken, ""); !ok {
			b.Fatal("identify failed")
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	te, pair := newBenchmarkEngine(b)
	ctx := context.Background()
	token := pair.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := te.Refresh(ctx, token)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		token = next.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	te, _ := newBenchmarkEngine(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := te.Login(ctx, RolePatient, "bench@clinic.io", "correct-password-123"); err != nil {
			b.Fatalf("login failed: %v", err)
		}
	}
}
