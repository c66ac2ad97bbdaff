package clinicAuth

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "test defaults valid",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "jwt leeway valid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 45 * time.Second
			},
			wantValid: true,
		},
		{
			name: "jwt leeway invalid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 3 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "jwt signing invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "hs256 short secret invalid",
			mutate: func(c *Config) {
				c.JWT.PrivateKey = []byte("short")
			},
			wantValid: false,
		},
		{
			name: "ed25519 without public key invalid",
			mutate: func(c *Config) {
				c.JWT.SigningMethod = "ed25519"
				c.JWT.PublicKey = nil
			},
			wantValid: false,
		},
		{
			name: "access outliving refresh invalid",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = 8 * 24 * time.Hour
			},
			wantValid: false,
		},
		{
			name: "weak argon2 invalid",
			mutate: func(c *Config) {
				c.Password.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "otp digits invalid",
			mutate: func(c *Config) {
				c.OTP.Digits = 3
			},
			wantValid: false,
		},
		{
			name: "otp session shorter than code invalid",
			mutate: func(c *Config) {
				c.OTP.SessionTTL = time.Minute
			},
			wantValid: false,
		},
		{
			name: "otp zero resends valid",
			mutate: func(c *Config) {
				c.OTP.MaxResends = 0
			},
			wantValid: true,
		},
		{
			name: "otp zero attempts invalid",
			mutate: func(c *Config) {
				c.OTP.MaxAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "reset token too short invalid",
			mutate: func(c *Config) {
				c.PasswordReset.TokenBytes = 8
			},
			wantValid: false,
		},
		{
			name: "super admin without hash invalid",
			mutate: func(c *Config) {
				c.SuperAdmin.Email = "root@clinic.io"
			},
			wantValid: false,
		},
		{
			name: "disabled login throttle ignores budget",
			mutate: func(c *Config) {
				c.Security.EnableLoginThrottle = false
				c.Security.MaxLoginAttempts = 0
			},
			wantValid: true,
		},
		{
			name: "enabled reset throttle requires budget",
			mutate: func(c *Config) {
				c.Security.MaxResetRequests = 0
			},
			wantValid: false,
		},
		{
			name: "empty cookie name invalid",
			mutate: func(c *Config) {
				c.Cookies.RefreshName = ""
			},
			wantValid: false,
		},
		{
			name: "audit buffer required when enabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("defaults without signing keys must not validate")
	}
	if cfg.JWT.AccessTTL != 15*time.Minute || cfg.JWT.RefreshTTL != 7*24*time.Hour || cfg.JWT.AdminTTL != 8*time.Hour {
		t.Fatalf("unexpected token lifetimes: %+v", cfg.JWT)
	}
	if cfg.OTP.TTL != 300*time.Second || cfg.PasswordReset.TTL != 600*time.Second {
		t.Fatal("unexpected OTP or reset lifetimes")
	}
}

func TestConfigCloneIsolatesKeys(t *testing.T) {
	cfg := testConfig()
	cp := cloneConfig(cfg)
	cp.JWT.PrivateKey[0] ^= 0xff
	if cfg.JWT.PrivateKey[0] == cp.JWT.PrivateKey[0] {
		t.Fatal("cloned key must not share backing array")
	}
}

func TestRolePath(t *testing.T) {
	if got := RolePath("/{role}/login", RoleDoctor); got != "/doctor/login" {
		t.Fatalf("unexpected path %q", got)
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	_, rdb := newTestRedis(t)

	if _, err := New().WithConfig(testConfig()).WithAccountStore(newMemAccounts()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	if _, err := New().WithConfig(testConfig()).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without account store")
	}

	b := New().WithConfig(testConfig()).WithRedis(rdb).WithAccountStore(newMemAccounts())
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("builder must be single use")
	}
}

func TestSecurityReport(t *testing.T) {
	te := newTestEngine(t, nil)
	r := te.SecurityReport()
	if r.SigningAlgorithm != "hs256" || r.AccessTTL != 15*time.Minute {
		t.Fatalf("unexpected report: %+v", r)
	}
	if !r.LoginThrottleActive || !r.RefreshThrottleActive || !r.SignupThrottleActive || !r.ResetThrottleActive {
		t.Fatalf("expected default throttles active: %+v", r)
	}
	if r.SuperAdminEnabled {
		t.Fatal("super-admin must be off without an email")
	}
	if r.OTP.MaxAttempts != 5 || r.OTP.MaxResends != 3 {
		t.Fatalf("unexpected otp report: %+v", r.OTP)
	}
}
