package clinicAuth

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config is the engine configuration. Build it with DefaultConfig, adjust
// fields, and pass it to Builder.WithConfig. The engine keeps a private copy.
type Config struct {
	JWT           JWTConfig
	Password      PasswordConfig
	OTP           OTPConfig
	PasswordReset PasswordResetConfig
	Ledger        LedgerConfig
	SuperAdmin    SuperAdminConfig
	Security      SecurityConfig
	Cookies       CookieConfig
	Paths         PathConfig
	Mail          MailConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig carries signing material and lifetimes for the three token kinds.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AdminTTL      time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MinLength      int
	UpgradeOnLogin bool
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig bounds the signup verification flow.
type OTPConfig struct {
	Digits      int
	TTL         time.Duration // lifetime of the code itself
	SessionTTL  time.Duration // lifetime of the browser-bound session
	MaxAttempts int
	MaxResends  int
	RedisPrefix string
}

// PasswordResetConfig controls reset-link issuance.
type PasswordResetConfig struct {
	TTL        time.Duration
	TokenBytes int
	BaseURL    string
}

// LedgerConfig configures the default Redis-backed refresh ledger. It is
// ignored when Builder.WithLedger supplies another implementation.
type LedgerConfig struct {
	RedisPrefix string
}

// SuperAdminConfig is the single configured super-admin credential. Leave
// Email empty to disable super-admin login.
type SuperAdminConfig struct {
	Email        string
	PasswordHash string
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds Redis-backed throttle budgets.
type SecurityConfig struct {
	EnableLoginThrottle     bool
	EnableIPThrottle        bool
	EnableRefreshThrottle   bool
	MaxLoginAttempts        int
	LoginCooldownDuration   time.Duration
	MaxRefreshAttempts      int
	RefreshCooldownDuration time.Duration

	// Signup and resend share one budget per email.
	EnableSignupThrottle   bool
	MaxSignupAttempts      int
	SignupCooldownDuration time.Duration

	EnableResetThrottle   bool
	MaxResetRequests      int
	ResetCooldownDuration time.Duration
}

// CookieConfig names the cookies the HTTP layer reads and writes.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	AdminName   string
	OTPName     string
	Secure      bool
	SameSite    http.SameSite
	Path        string
}

// PathConfig holds the page paths guards redirect into. The "{role}"
// placeholder is replaced with the request role.
type PathConfig struct {
	Login         string
	Signup        string
	Dashboard     string
	AdminLogin    string
	AdminHome     string
	SetupPassword string
	VerifyOTP     string
}

// MailConfig bounds the detached notification dispatch.
type MailConfig struct {
	DispatchTimeout time.Duration
}

// AuditConfig controls the async audit dispatcher. DropIfFull never applies
// to security events such as refresh reuse.
type AuditConfig struct {
	Enabled            bool
	BufferSize         int
	SecurityBufferSize int
	DropIfFull         bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Signing keys are left
// empty and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			AdminTTL:      8 * time.Hour,
			SigningMethod: "ed25519",
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			MinLength:      6,
			UpgradeOnLogin: true,
		},
		OTP: OTPConfig{
			Digits:      6,
			TTL:         300 * time.Second,
			SessionTTL:  10 * time.Minute,
			MaxAttempts: 5,
			MaxResends:  3,
			RedisPrefix: "ca",
		},
		PasswordReset: PasswordResetConfig{
			TTL:        600 * time.Second,
			TokenBytes: 32,
			BaseURL:    "http://localhost:3000",
		},
		Ledger: LedgerConfig{
			RedisPrefix: "rt",
		},
		Security: SecurityConfig{
			EnableLoginThrottle:     true,
			EnableIPThrottle:        false,
			EnableRefreshThrottle:   true,
			MaxLoginAttempts:        10,
			LoginCooldownDuration:   15 * time.Minute,
			MaxRefreshAttempts:      60,
			RefreshCooldownDuration: time.Minute,
			EnableSignupThrottle:    true,
			MaxSignupAttempts:       5,
			SignupCooldownDuration:  time.Hour,
			EnableResetThrottle:     true,
			MaxResetRequests:        3,
			ResetCooldownDuration:   time.Hour,
		},
		Cookies: CookieConfig{
			AccessName:  "accessToken",
			RefreshName: "refreshToken",
			AdminName:   "adminToken",
			OTPName:     "otpSession",
			Secure:      true,
			SameSite:    http.SameSiteStrictMode,
			Path:        "/",
		},
		Paths: PathConfig{
			Login:         "/{role}/login",
			Signup:        "/{role}/signup",
			Dashboard:     "/{role}/dashboard",
			AdminLogin:    "/admin/login",
			AdminHome:     "/admin/dashboard",
			SetupPassword: "/{role}/setup-password",
			VerifyOTP:     "/{role}/verify-otp",
		},
		Mail: MailConfig{
			DispatchTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:            false,
			BufferSize:         1024,
			SecurityBufferSize: 256,
			DropIfFull:         true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// RolePath expands the "{role}" placeholder in p.
func RolePath(p string, role Role) string {
	return strings.ReplaceAll(p, "{role}", string(role))
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 || c.JWT.AdminTTL <= 0 {
		return errors.New("JWT TTLs must be > 0")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than RefreshTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Password
	if c.Password.Memory < 8*1024 || c.Password.Time < 1 || c.Password.Parallelism < 1 {
		return errors.New("Password argon2 parameters are too weak")
	}
	if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
		return errors.New("Password salt and key length must be >= 16")
	}
	if c.Password.MinLength < 1 {
		return errors.New("Password MinLength must be >= 1")
	}

	// OTP
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be within [4, 10]")
	}
	if c.OTP.TTL <= 0 || c.OTP.SessionTTL <= 0 {
		return errors.New("OTP TTLs must be > 0")
	}
	if c.OTP.SessionTTL < c.OTP.TTL {
		return errors.New("OTP SessionTTL must not be shorter than TTL")
	}
	if c.OTP.MaxAttempts <= 0 || c.OTP.MaxResends < 0 {
		return errors.New("OTP MaxAttempts must be > 0 and MaxResends >= 0")
	}
	if strings.TrimSpace(c.OTP.RedisPrefix) == "" {
		return errors.New("OTP RedisPrefix must not be empty")
	}

	// Password reset
	if c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset TTL must be > 0")
	}
	if c.PasswordReset.TokenBytes < 16 {
		return errors.New("PasswordReset TokenBytes must be >= 16")
	}

	if strings.TrimSpace(c.Ledger.RedisPrefix) == "" {
		return errors.New("Ledger RedisPrefix must not be empty")
	}
	if c.SuperAdmin.Email != "" && c.SuperAdmin.PasswordHash == "" {
		return errors.New("SuperAdmin PasswordHash is required when Email is set")
	}

	// Security
	if c.Security.EnableLoginThrottle {
		if c.Security.MaxLoginAttempts <= 0 || c.Security.LoginCooldownDuration <= 0 {
			return errors.New("login throttle requires MaxLoginAttempts and LoginCooldownDuration > 0")
		}
	}
	if c.Security.EnableRefreshThrottle {
		if c.Security.MaxRefreshAttempts <= 0 || c.Security.RefreshCooldownDuration <= 0 {
			return errors.New("refresh throttle requires MaxRefreshAttempts and RefreshCooldownDuration > 0")
		}
	}
	if c.Security.EnableSignupThrottle {
		if c.Security.MaxSignupAttempts <= 0 || c.Security.SignupCooldownDuration <= 0 {
			return errors.New("signup throttle requires MaxSignupAttempts and SignupCooldownDuration > 0")
		}
	}
	if c.Security.EnableResetThrottle {
		if c.Security.MaxResetRequests <= 0 || c.Security.ResetCooldownDuration <= 0 {
			return errors.New("reset throttle requires MaxResetRequests and ResetCooldownDuration > 0")
		}
	}

	if c.Cookies.AccessName == "" || c.Cookies.RefreshName == "" || c.Cookies.AdminName == "" || c.Cookies.OTPName == "" {
		return errors.New("cookie names must not be empty")
	}
	if c.Mail.DispatchTimeout <= 0 {
		return errors.New("Mail DispatchTimeout must be > 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.SecurityBufferSize < 0 {
		return errors.New("Audit SecurityBufferSize must be >= 0")
	}

	return nil
}
