package internaldefs

import (
	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   clinicAuth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   clinicAuth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: clinicAuth.MetricLoginSuccess, Name: "clinicauth_login_success_total", Help: "Successful patient and doctor logins."},
	{ID: clinicAuth.MetricLoginFailure, Name: "clinicauth_login_failure_total", Help: "Failed patient and doctor logins."},
	{ID: clinicAuth.MetricLoginRateLimited, Name: "clinicauth_login_rate_limited_total", Help: "Logins refused by the throttle."},
	{ID: clinicAuth.MetricAdminLoginSuccess, Name: "clinicauth_admin_login_success_total", Help: "Successful admin and super-admin logins."},
	{ID: clinicAuth.MetricAdminLoginFailure, Name: "clinicauth_admin_login_failure_total", Help: "Failed admin and super-admin logins."},
	{ID: clinicAuth.MetricRefreshSuccess, Name: "clinicauth_refresh_success_total", Help: "Refresh tokens rotated."},
	{ID: clinicAuth.MetricRefreshFailure, Name: "clinicauth_refresh_failure_total", Help: "Refresh attempts refused."},
	{ID: clinicAuth.MetricRefreshReuseDetected, Name: "clinicauth_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: clinicAuth.MetricFamilyRevoked, Name: "clinicauth_family_revoked_total", Help: "Refresh families revoked after reuse."},
	{ID: clinicAuth.MetricCrossRoleRejected, Name: "clinicauth_cross_role_rejected_total", Help: "Tokens presented to another role's surface."},
	{ID: clinicAuth.MetricAccountBlockedRejected, Name: "clinicauth_account_blocked_rejected_total", Help: "Requests refused for blocked accounts."},
	{ID: clinicAuth.MetricAccountInactiveRejected, Name: "clinicauth_account_inactive_rejected_total", Help: "Requests refused for inactive accounts."},
	{ID: clinicAuth.MetricLogout, Name: "clinicauth_logout_total", Help: "Logouts."},
	{ID: clinicAuth.MetricSignupStarted, Name: "clinicauth_signup_started_total", Help: "Signups that opened an OTP session."},
	{ID: clinicAuth.MetricOTPVerified, Name: "clinicauth_otp_verified_total", Help: "Signup codes accepted."},
	{ID: clinicAuth.MetricOTPFailure, Name: "clinicauth_otp_failure_total", Help: "Signup codes rejected."},
	{ID: clinicAuth.MetricOTPAttemptsExceeded, Name: "clinicauth_otp_attempts_exceeded_total", Help: "OTP sessions discarded after too many wrong codes."},
	{ID: clinicAuth.MetricOTPResent, Name: "clinicauth_otp_resent_total", Help: "Signup codes resent."},
	{ID: clinicAuth.MetricOTPResendLimited, Name: "clinicauth_otp_resend_limited_total", Help: "Resends refused by the resend budget."},
	{ID: clinicAuth.MetricPasswordResetRequest, Name: "clinicauth_password_reset_request_total", Help: "Reset links mailed."},
	{ID: clinicAuth.MetricPasswordResetSuccess, Name: "clinicauth_password_reset_success_total", Help: "Passwords reset."},
	{ID: clinicAuth.MetricPasswordResetFailure, Name: "clinicauth_password_reset_failure_total", Help: "Reset attempts refused."},
	{ID: clinicAuth.MetricOAuthLogin, Name: "clinicauth_oauth_login_total", Help: "Sessions opened through an OAuth provider."},
	{ID: clinicAuth.MetricMailDispatchFailure, Name: "clinicauth_mail_dispatch_failure_total", Help: "Notifications the mailer failed to deliver."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: clinicAuth.MetricAuthenticateLatency, Name: "clinicauth_authenticate_latency_seconds", Help: "Guard authentication latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "clinicauth_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."

// HistogramUpperBounds are the bucket bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten buckets into separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-slot array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals. The last
// slot is the sample count.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
