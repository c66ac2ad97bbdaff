package clinicAuth

import (
	"context"
	"errors"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventAdminLoginSuccess     = "admin_login_success"
	auditEventAdminLoginFailure     = "admin_login_failure"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshRateLimited    = "refresh_rate_limited"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventCrossRoleRejected     = "cross_role_rejected"
	auditEventAccountStatusRejected = "account_status_rejected"
	auditEventLogout                = "logout"
	auditEventSignupStarted         = "signup_started"
	auditEventOTPVerified           = "otp_verified"
	auditEventOTPFailure            = "otp_failure"
	auditEventOTPAttemptsExceeded   = "otp_attempts_exceeded"
	auditEventOTPResent             = "otp_resent"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventPasswordSetup         = "password_setup"
	auditEventOAuthLogin            = "oauth_login"
	auditEventRateLimitTriggered    = "rate_limit_triggered"
)

// AuditErrorCode is the stable, low-cardinality error label written to
// audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRefreshExpired     AuditErrorCode = "refresh_expired"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrCrossRole          AuditErrorCode = "cross_role"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrAccountBlocked     AuditErrorCode = "account_blocked"
	auditErrAccountInactive    AuditErrorCode = "account_inactive"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrAccountExists      AuditErrorCode = "duplicate"
	auditErrPasswordNotSet     AuditErrorCode = "password_not_set"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrOTPInvalid         AuditErrorCode = "otp_invalid"
	auditErrOTPExpired         AuditErrorCode = "otp_expired"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrOTPSession         AuditErrorCode = "otp_session_not_found"
	auditErrResetToken         AuditErrorCode = "reset_token_invalid"
	auditErrRoleNotAllowed     AuditErrorCode = "role_not_allowed"
	auditErrOAuth              AuditErrorCode = "oauth_exchange"
	auditErrIssue              AuditErrorCode = "token_issue"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	role Role,
	family string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Role:      string(role),
		Family:    family,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Security:  IsSecurityEvent(err),
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(
	ctx context.Context,
	scope string,
	role Role,
	metadataBuilder func() map[string]string,
) {
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, "", role, "", nil, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}

// securityEvent logs a token-misuse event at WARN and audits it.
func (e *Engine) securityEvent(ctx context.Context, eventType string, userID string, role Role, family string, err error, metadataBuilder func() map[string]string) {
	e.logger.WarnContext(ctx, "clinicAuth: security event",
		"security", true,
		"event", eventType,
		"user_id", userID,
		"role", string(role),
		"family", family,
		"ip", clientIPFromContext(ctx),
		"error", err,
	)
	e.emitAudit(ctx, eventType, false, userID, role, family, err, metadataBuilder)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrTokenReuseDetected):
		return auditErrRefreshReuse
	case errors.Is(err, ErrCrossRoleToken):
		return auditErrCrossRole
	case errors.Is(err, ErrRefreshExpired):
		return auditErrRefreshExpired
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited),
		errors.Is(err, ErrSignupRateLimited),
		errors.Is(err, ErrResetRateLimited),
		errors.Is(err, ErrResendLimitExceeded):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrAccountBlocked):
		return auditErrAccountBlocked
	case errors.Is(err, ErrAccountInactive):
		return auditErrAccountInactive
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrAlreadyVerified):
		return auditErrAccountExists
	case errors.Is(err, ErrPasswordNotSet):
		return auditErrPasswordNotSet
	case errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrPasswordAlreadySet):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrInvalidOTP):
		return auditErrOTPInvalid
	case errors.Is(err, ErrOTPExpired):
		return auditErrOTPExpired
	case errors.Is(err, ErrTooManyOTPAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrOTPSessionNotFound):
		return auditErrOTPSession
	case errors.Is(err, ErrResetTokenInvalid):
		return auditErrResetToken
	case errors.Is(err, ErrRoleNotAllowed):
		return auditErrRoleNotAllowed
	case errors.Is(err, ErrOAuthExchange):
		return auditErrOAuth
	case errors.Is(err, ErrTokenIssue):
		return auditErrIssue
	case errors.Is(err, ErrLedgerUnavailable),
		errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
