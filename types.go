package clinicAuth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/clinicAuth/internal/audit"
	internalmetrics "github.com/MrEthical07/clinicAuth/internal/metrics"
)

// Role is the audience a token and an account belong to. Each role has its
// own account table, cookie surface and guard.
type Role string

const (
	RolePatient    Role = "patient"
	RoleDoctor     Role = "doctor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// SuperAdminID is the fixed subject of the configured super-admin.
const SuperAdminID = "superAdmin"

// ParseRole maps a path segment or claim to a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether r authenticates through the admin session.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

func (r Role) String() string { return string(r) }

// AccountStatus is the doctor/admin status column. Patients leave it empty
// and use the IsActive flag instead.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusBlocked  AccountStatus = "blocked"
)

// Account is the projection of an account row the session core needs.
type Account struct {
	ID                 string
	Role               Role
	Email              string
	Name               string
	Phone              string
	PasswordHash       string
	IsBlocked          bool
	IsActive           bool
	IsVerified         bool
	Status             AccountStatus
	GoogleID           string
	NeedsPasswordSetup bool
	CreatedAt          time.Time
}

// Blocked reports whether a guard must refuse the account.
func (a Account) Blocked() bool {
	return a.IsBlocked || a.Status == StatusBlocked
}

// Inactive reports whether the account has been deactivated.
func (a Account) Inactive() bool {
	if a.Status == "" {
		return !a.IsActive
	}
	return a.Status == StatusInactive
}

// Sanitized returns a copy safe to hand to handlers and templates.
func (a Account) Sanitized() Account {
	a.PasswordHash = ""
	return a
}

// NewAccount is the input to AccountStore.ProvisionUnverified.
type NewAccount struct {
	Name         string
	Email        string
	Phone        string
	PasswordHash string
}

// AccountStore is the account persistence the engine reads and the handful
// of mutations it performs. Lookups return ErrAccountNotFound when no row
// matches. Emails are passed lower-cased and trimmed.
type AccountStore interface {
	FindByID(ctx context.Context, role Role, id string) (*Account, error)
	FindByEmail(ctx context.Context, role Role, email string) (*Account, error)
	// ProvisionUnverified inserts a new unverified account, or resets an
	// existing one to unverified+active with the given details. The bool
	// reports whether an existing row was reused.
	ProvisionUnverified(ctx context.Context, role Role, in NewAccount) (*Account, bool, error)
	// MarkVerified sets verified and active.
	MarkVerified(ctx context.Context, role Role, id string) error
	// UpdatePasswordHash stores a new hash and marks the account verified.
	UpdatePasswordHash(ctx context.Context, role Role, id, hash string) error
	// CompletePasswordSetup stores a hash and clears NeedsPasswordSetup.
	CompletePasswordSetup(ctx context.Context, role Role, id, hash string) error
	// UpsertOAuth finds the account by email, linking the provider subject,
	// or creates a verified account that still needs a password.
	UpsertOAuth(ctx context.Context, role Role, profile OAuthProfile) (*Account, error)
}

// NotificationKind selects the message the Mailer sends.
type NotificationKind string

const (
	NotifySignupOTP       NotificationKind = "signup_otp"
	NotifySignupConfirmed NotificationKind = "signup_confirmed"
	NotifyPasswordReset   NotificationKind = "password_reset"
)

// Notification is what the engine hands to the Mailer. Message bodies are
// the Mailer's concern.
type Notification struct {
	Kind  NotificationKind `json:"kind"`
	Role  Role             `json:"role"`
	To    string           `json:"to"`
	Name  string           `json:"name,omitempty"`
	OTP   string           `json:"otp,omitempty"`
	Link  string           `json:"link,omitempty"`
	TTL   time.Duration    `json:"ttl,omitempty"`
	RefID string           `json:"ref_id,omitempty"`
}

// Mailer delivers notifications. The engine never waits on it and never
// fails a request because of it.
type Mailer interface {
	Send(ctx context.Context, n Notification) error
}

// OAuthProfile is the identity an OAuthExchanger resolves a code to.
type OAuthProfile struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// OAuthExchanger turns an authorization code into a verified profile.
type OAuthExchanger interface {
	Exchange(ctx context.Context, code string) (OAuthProfile, error)
}

// TokenPair is a freshly issued access/refresh pair. Both values are always
// set together.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	Family           string
}

// AuthResult is the outcome of a successful guard check.
type AuthResult struct {
	UserID  string
	Role    Role
	Account Account
	// Rotated is set when the access token was missing or expired and the
	// refresh token was rotated to mint a new pair.
	Rotated *TokenPair
}

// LoginResult is returned by Login.
type LoginResult struct {
	Account Account
	Tokens  TokenPair
}

// AdminSession is returned by AdminLogin.
type AdminSession struct {
	UserID    string
	Role      Role
	Token     string
	ExpiresAt time.Time
	Account   *Account
}

// SignupInput is the patient signup form after validation.
type SignupInput struct {
	Name     string
	Email    string
	Phone    string
	Password string
}

// SignupResult is returned by Signup.
type SignupResult struct {
	Account     Account
	Session     *OTPSession
	Reactivated bool
}

// OTPSession is the public view of a signup verification session.
type OTPSession struct {
	ID           string
	Email        string
	Role         Role
	OTPExpiry    time.Time
	AttemptCount int
	ResendCount  int
	Pending      bool
	Verified     bool
	ExpiresAt    time.Time
}

// OTPGate is the decision taken before rendering the OTP entry page.
type OTPGate int

const (
	OTPGateAllow OTPGate = iota
	OTPGateVerified
	OTPGateNoSession
	OTPGateExpired
	OTPGateTooManyAttempts
)

func (g OTPGate) String() string {
	switch g {
	case OTPGateAllow:
		return "allow"
	case OTPGateVerified:
		return "verified"
	case OTPGateNoSession:
		return "no_session"
	case OTPGateExpired:
		return "expired"
	case OTPGateTooManyAttempts:
		return "too_many_attempts"
	default:
		return "unknown"
	}
}

// OTPVerifyResult is returned by a successful VerifyOTP.
type OTPVerifyResult struct {
	Account Account
	Tokens  TokenPair
}

// OAuthResult is returned by CompleteOAuth.
type OAuthResult struct {
	Account            Account
	Tokens             TokenPair
	NeedsPasswordSetup bool
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs audit events through slog.
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}

// MetricID identifies a counter.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess            = internalmetrics.MetricLoginSuccess
	MetricLoginFailure            = internalmetrics.MetricLoginFailure
	MetricLoginRateLimited        = internalmetrics.MetricLoginRateLimited
	MetricAdminLoginSuccess       = internalmetrics.MetricAdminLoginSuccess
	MetricAdminLoginFailure       = internalmetrics.MetricAdminLoginFailure
	MetricRefreshSuccess          = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure          = internalmetrics.MetricRefreshFailure
	MetricRefreshReuseDetected    = internalmetrics.MetricRefreshReuseDetected
	MetricFamilyRevoked           = internalmetrics.MetricFamilyRevoked
	MetricCrossRoleRejected       = internalmetrics.MetricCrossRoleRejected
	MetricAccountBlockedRejected  = internalmetrics.MetricAccountBlockedRejected
	MetricAccountInactiveRejected = internalmetrics.MetricAccountInactiveRejected
	MetricLogout                  = internalmetrics.MetricLogout
	MetricSignupStarted           = internalmetrics.MetricSignupStarted
	MetricOTPVerified             = internalmetrics.MetricOTPVerified
	MetricOTPFailure              = internalmetrics.MetricOTPFailure
	MetricOTPAttemptsExceeded     = internalmetrics.MetricOTPAttemptsExceeded
	MetricOTPResent               = internalmetrics.MetricOTPResent
	MetricOTPResendLimited        = internalmetrics.MetricOTPResendLimited
	MetricPasswordResetRequest    = internalmetrics.MetricPasswordResetRequest
	MetricPasswordResetSuccess    = internalmetrics.MetricPasswordResetSuccess
	MetricPasswordResetFailure    = internalmetrics.MetricPasswordResetFailure
	MetricOAuthLogin              = internalmetrics.MetricOAuthLogin
	MetricMailDispatchFailure     = internalmetrics.MetricMailDispatchFailure
	MetricAuthenticateLatency     = internalmetrics.MetricAuthenticateLatency
)

// Metrics holds atomic counters and the optional latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a Metrics. When cfg.Enabled is false every operation
// is a no-op.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}
