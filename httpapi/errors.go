package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// StatusFor maps an engine or validation error to an HTTP status.
func StatusFor(err error) int {
	var verr *ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr), errors.Is(err, errMalformedBody):
		return http.StatusBadRequest

	case errors.Is(err, clinicAuth.ErrLoginRateLimited),
		errors.Is(err, clinicAuth.ErrRefreshRateLimited),
		errors.Is(err, clinicAuth.ErrSignupRateLimited),
		errors.Is(err, clinicAuth.ErrResetRateLimited),
		errors.Is(err, clinicAuth.ErrResendLimitExceeded),
		errors.Is(err, errIPRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, clinicAuth.ErrAccountBlocked),
		errors.Is(err, clinicAuth.ErrAccountInactive),
		errors.Is(err, clinicAuth.ErrAccountUnverified),
		errors.Is(err, clinicAuth.ErrPasswordNotSet),
		errors.Is(err, clinicAuth.ErrCrossRoleToken),
		errors.Is(err, clinicAuth.ErrRoleNotAllowed):
		return http.StatusForbidden

	case errors.Is(err, clinicAuth.ErrAccountNotFound):
		return http.StatusNotFound

	case errors.Is(err, clinicAuth.ErrInvalidToken),
		errors.Is(err, clinicAuth.ErrRefreshExpired),
		errors.Is(err, clinicAuth.ErrTokenReuseDetected):
		return http.StatusUnauthorized

	case errors.Is(err, clinicAuth.ErrInvalidCredentials),
		errors.Is(err, clinicAuth.ErrInvalidOTP),
		errors.Is(err, clinicAuth.ErrOTPExpired),
		errors.Is(err, clinicAuth.ErrTooManyOTPAttempts),
		errors.Is(err, clinicAuth.ErrOTPSessionNotFound),
		errors.Is(err, clinicAuth.ErrAlreadyVerified),
		errors.Is(err, clinicAuth.ErrAccountExists),
		errors.Is(err, clinicAuth.ErrPasswordPolicy),
		errors.Is(err, clinicAuth.ErrPasswordAlreadySet),
		errors.Is(err, clinicAuth.ErrResetTokenInvalid),
		errors.Is(err, clinicAuth.ErrOAuthExchange):
		return http.StatusBadRequest

	case errors.Is(err, clinicAuth.ErrStoreUnavailable),
		errors.Is(err, clinicAuth.ErrLedgerUnavailable),
		errors.Is(err, clinicAuth.ErrTokenIssue),
		errors.Is(err, clinicAuth.ErrEngineNotReady):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// FieldErrors renders err as the field-keyed messages the forms display.
// Errors that belong to no single field are keyed "general".
func FieldErrors(err error) map[string]string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Fields()
	}
	var otpErr *clinicAuth.InvalidOTPError
	if errors.As(err, &otpErr) {
		return map[string]string{"otp": fmt.Sprintf("Invalid OTP. %d attempts remaining.", otpErr.Remaining)}
	}

	switch {
	case errors.Is(err, errMalformedBody):
		return general("Malformed request body.")
	case errors.Is(err, clinicAuth.ErrAccountNotFound):
		return map[string]string{"email": "No account found with this email"}
	case errors.Is(err, clinicAuth.ErrInvalidCredentials):
		return map[string]string{"password": "Incorrect password"}
	case errors.Is(err, clinicAuth.ErrAccountExists):
		return map[string]string{"email": "User already exists! Please login."}
	case errors.Is(err, clinicAuth.ErrPasswordPolicy):
		return map[string]string{"password": "Password must be at least 6 characters"}
	case errors.Is(err, clinicAuth.ErrOTPExpired):
		return map[string]string{"otp": "OTP expired or not sent."}
	case errors.Is(err, clinicAuth.ErrTooManyOTPAttempts):
		return map[string]string{"otp": "Too many failed attempts. Please signup again."}
	case errors.Is(err, clinicAuth.ErrOTPSessionNotFound):
		return general("Session expired. Please signup again.")
	case errors.Is(err, clinicAuth.ErrAlreadyVerified):
		return general("Email already verified.")
	case errors.Is(err, clinicAuth.ErrResendLimitExceeded):
		return general("Too many resend requests. Please try again later.")
	case errors.Is(err, clinicAuth.ErrAccountBlocked):
		return general("Your account is blocked. Please contact support.")
	case errors.Is(err, clinicAuth.ErrAccountInactive):
		return general("Your account is inactive. Please sign up again or use Google Sign-In.")
	case errors.Is(err, clinicAuth.ErrAccountUnverified):
		return general("Please verify your email before logging in.")
	case errors.Is(err, clinicAuth.ErrPasswordNotSet):
		return general("This account only uses Google Sign-In. Please click 'Sign in with Google' button.")
	case errors.Is(err, clinicAuth.ErrPasswordAlreadySet):
		return general("Password is already set.")
	case errors.Is(err, clinicAuth.ErrResetTokenInvalid):
		return general("Invalid or expired reset link.")
	case errors.Is(err, clinicAuth.ErrOAuthExchange):
		return general("Sign-in with the provider failed. Please try again.")
	case errors.Is(err, clinicAuth.ErrRoleNotAllowed), errors.Is(err, clinicAuth.ErrCrossRoleToken):
		return general("Access denied.")
	case StatusFor(err) == http.StatusUnauthorized:
		return general("Session expired. Please login again.")
	case StatusFor(err) == http.StatusTooManyRequests:
		return general("Too many requests. Please try again later.")
	case StatusFor(err) == http.StatusServiceUnavailable:
		return general("Service temporarily unavailable. Please try again.")
	default:
		return general("Server error. Please try again later.")
	}
}

func general(msg string) map[string]string {
	return map[string]string{"general": msg}
}
