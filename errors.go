package clinicAuth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken covers malformed, forged, wrong-kind and unknown tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrRefreshExpired is returned for a refresh token at or past its expiry.
	ErrRefreshExpired = errors.New("refresh token expired")
	// ErrTokenReuseDetected is returned when an already-rotated refresh token
	// is presented. The whole family has been revoked by the time it surfaces.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
	// ErrAccountBlocked is returned for blocked accounts.
	ErrAccountBlocked = errors.New("account blocked")
	// ErrAccountInactive is returned for deactivated accounts.
	ErrAccountInactive = errors.New("account inactive")
	// ErrCrossRoleToken is returned when a token minted for one role is
	// presented to another role's surface.
	ErrCrossRoleToken = errors.New("token role does not match")
	// ErrOTPExpired is returned when the OTP code has lapsed.
	ErrOTPExpired = errors.New("otp expired")
	// ErrInvalidOTP is returned for a wrong OTP code. See InvalidOTPError.
	ErrInvalidOTP = errors.New("invalid otp")
	// ErrTooManyOTPAttempts is returned once the attempt budget is spent.
	ErrTooManyOTPAttempts = errors.New("too many otp attempts")
	// ErrResendLimitExceeded is returned once the resend budget is spent.
	ErrResendLimitExceeded = errors.New("otp resend limit exceeded")
	// ErrAccountNotFound is returned when no account matches.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned by Signup for a verified, active account.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountUnverified is returned by Login for a patient who never
	// completed OTP verification.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrPasswordNotSet is returned by Login for OAuth-only accounts.
	ErrPasswordNotSet = errors.New("password not set")
	// ErrOTPSessionNotFound is returned when no pending OTP session exists.
	ErrOTPSessionNotFound = errors.New("otp session not found")
	// ErrAlreadyVerified is returned by ResendOTP after verification.
	ErrAlreadyVerified = errors.New("account already verified")
	// ErrLoginRateLimited is returned when the login budget is exhausted.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited is returned when a family refreshes too often.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrSignupRateLimited is returned when signup or resend requests for an
	// email exceed their budget.
	ErrSignupRateLimited = errors.New("signup rate limited")
	// ErrResetRateLimited is returned when reset-link requests exceed their budget.
	ErrResetRateLimited = errors.New("password reset rate limited")
	// ErrResetTokenInvalid is returned for a wrong or lapsed reset token.
	ErrResetTokenInvalid = errors.New("password reset token invalid")
	// ErrPasswordAlreadySet is returned by SetupPassword once a password exists.
	ErrPasswordAlreadySet = errors.New("password already set")
	// ErrOAuthExchange is returned when the provider code cannot be redeemed.
	ErrOAuthExchange = errors.New("oauth exchange failed")
	// ErrPasswordPolicy is returned when a new password is rejected.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrRoleNotAllowed is returned when an operation does not serve a role.
	ErrRoleNotAllowed = errors.New("role not allowed")
	// ErrTokenIssue is returned when signing or persisting a token pair fails.
	ErrTokenIssue = errors.New("token issuance failed")
	// ErrLedgerUnavailable is returned when the refresh ledger fails.
	ErrLedgerUnavailable = errors.New("refresh ledger unavailable")
	// ErrStoreUnavailable is returned when Redis-backed state fails.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrEngineNotReady is returned by a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// InvalidOTPError reports a wrong OTP code with the attempts left before the
// session is discarded. errors.Is(err, ErrInvalidOTP) holds.
type InvalidOTPError struct {
	Remaining int
}

func (e *InvalidOTPError) Error() string {
	return fmt.Sprintf("%s: %d attempts remaining", ErrInvalidOTP, e.Remaining)
}

func (e *InvalidOTPError) Unwrap() error { return ErrInvalidOTP }

// IsSecurityEvent reports whether err signals token theft or misuse.
func IsSecurityEvent(err error) bool {
	return errors.Is(err, ErrTokenReuseDetected) || errors.Is(err, ErrCrossRoleToken)
}
