package clinicAuth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/clinicAuth/internal/flows"
	"github.com/MrEthical07/clinicAuth/internal/limiters"
	"github.com/MrEthical07/clinicAuth/internal/otpsession"
	"github.com/MrEthical07/clinicAuth/keystore"
	"github.com/MrEthical07/clinicAuth/password"
)

// Signup provisions an unverified patient account and starts OTP
// verification. An existing unverified or deactivated account is reset and
// reused; Reactivated reports that case.
func (e *Engine) Signup(ctx context.Context, role Role, in SignupInput) (*SignupResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if role != RolePatient {
		return nil, ErrRoleNotAllowed
	}
	email := normalizeEmail(in.Email)

	if err := e.throttleMail(ctx, e.signupLimiter, "signup", role, email); err != nil {
		return nil, err
	}

	existing, err := e.accounts.FindByEmail(ctx, role, email)
	switch {
	case err == nil:
		if existing.Blocked() {
			e.emitAudit(ctx, auditEventSignupStarted, false, existing.ID, role, "", ErrAccountBlocked, nil)
			return nil, ErrAccountBlocked
		}
		if existing.IsVerified && !existing.Inactive() {
			e.emitAudit(ctx, auditEventSignupStarted, false, existing.ID, role, "", ErrAccountExists, nil)
			return nil, ErrAccountExists
		}
	case !errors.Is(err, ErrAccountNotFound):
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	hash, err := e.hashNewPassword(in.Password)
	if err != nil {
		return nil, err
	}

	acct, reactivated, err := e.accounts.ProvisionUnverified(ctx, role, NewAccount{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	sess, err := e.startSignup(ctx, role, email, acct.Name)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSignupStarted)
	e.emitAudit(ctx, auditEventSignupStarted, true, acct.ID, role, "", nil, func() map[string]string {
		return map[string]string{"reactivated": fmt.Sprint(reactivated)}
	})

	return &SignupResult{Account: acct.Sanitized(), Session: sess, Reactivated: reactivated}, nil
}

// throttleMail charges one request against a mail-sending budget.
func (e *Engine) throttleMail(ctx context.Context, l *limiters.Window, scope string, role Role, email string) error {
	err := l.Enforce(ctx, string(role), email, clientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, limiters.ErrRateLimited):
		e.emitRateLimit(ctx, scope, role, func() map[string]string {
			return map[string]string{"identifier": email}
		})
		if scope == "reset" {
			return ErrResetRateLimited
		}
		return ErrSignupRateLimited
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (e *Engine) hashNewPassword(plain string) (string, error) {
	hash, err := e.passwords.Hash(plain)
	if err != nil {
		if errors.Is(err, password.ErrPasswordTooShort) || errors.Is(err, password.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: %v", ErrPasswordPolicy, err)
		}
		return "", err
	}
	return hash, nil
}

// StartSignup issues a fresh OTP for email and opens a pending verification
// session. The code is mailed asynchronously.
func (e *Engine) StartSignup(ctx context.Context, role Role, email string) (*OTPSession, error) {
	if e == nil || e.otpSessions == nil {
		return nil, ErrEngineNotReady
	}
	if !role.Valid() {
		return nil, ErrRoleNotAllowed
	}
	return e.startSignup(ctx, role, normalizeEmail(email), "")
}

func (e *Engine) startSignup(ctx context.Context, role Role, email, name string) (*OTPSession, error) {
	code, err := flows.GenerateCode(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}
	if err := e.keys.SetTTL(ctx, keystore.OTPKey(string(role), email), code, e.config.OTP.TTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := e.now()
	sess := otpsession.Session{
		ID:        uuid.NewString(),
		Email:     email,
		Role:      string(role),
		OTPExpiry: now.Add(e.config.OTP.TTL),
		Pending:   true,
	}
	if err := e.otpSessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.dispatch(ctx, Notification{
		Kind:  NotifySignupOTP,
		Role:  role,
		To:    email,
		Name:  name,
		OTP:   code,
		TTL:   e.config.OTP.TTL,
		RefID: sess.ID,
	})

	view := toOTPSession(&sess)
	view.ExpiresAt = now.Add(e.otpSessions.TTL())
	return view, nil
}

func toOTPSession(s *otpsession.Session) *OTPSession {
	return &OTPSession{
		ID:           s.ID,
		Email:        s.Email,
		Role:         Role(s.Role),
		OTPExpiry:    s.OTPExpiry,
		AttemptCount: s.AttemptCount,
		ResendCount:  s.ResendCount,
		Pending:      s.Pending,
		Verified:     s.Verified,
	}
}

// LookupOTPSession returns the stored state of a verification session.
func (e *Engine) LookupOTPSession(ctx context.Context, sessionID string) (*OTPSession, error) {
	if e == nil || e.otpSessions == nil {
		return nil, ErrEngineNotReady
	}
	sess, err := e.otpSessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, otpsession.ErrNotFound) {
			return nil, ErrOTPSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return toOTPSession(sess), nil
}

// GuardOTPSession decides whether the OTP entry page may be shown. Expired
// and exhausted sessions are cleared as a side effect.
func (e *Engine) GuardOTPSession(ctx context.Context, sessionID string) (OTPGate, error) {
	if e == nil || e.otpSessions == nil {
		return OTPGateNoSession, ErrEngineNotReady
	}

	var state flows.OTPGateState
	sess, err := e.otpSessions.Get(ctx, sessionID)
	switch {
	case err == nil:
		state.SessionFound = true
		state.Pending = sess.Pending
		state.Verified = sess.Verified
		state.AttemptCount = sess.AttemptCount
	case errors.Is(err, otpsession.ErrNotFound):
	default:
		return OTPGateNoSession, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if state.SessionFound && state.Pending {
		_, err := e.keys.Get(ctx, keystore.OTPKey(sess.Role, sess.Email))
		switch {
		case err == nil:
			state.CodePresent = true
		case errors.Is(err, keystore.ErrNotFound):
		default:
			return OTPGateNoSession, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	decision, clear := flows.DecideOTPGate(state, e.config.OTP.MaxAttempts)
	if clear {
		e.clearOTPState(ctx, sess)
	}

	switch decision {
	case flows.OTPGateVerified:
		return OTPGateVerified, nil
	case flows.OTPGateExpired:
		return OTPGateExpired, nil
	case flows.OTPGateTooManyAttempts:
		return OTPGateTooManyAttempts, nil
	case flows.OTPGateAllow:
		return OTPGateAllow, nil
	default:
		return OTPGateNoSession, nil
	}
}

func (e *Engine) clearOTPState(ctx context.Context, sess *otpsession.Session) {
	if sess == nil {
		return
	}
	if err := e.otpSessions.Delete(ctx, sess.ID); err != nil {
		e.logger.WarnContext(ctx, "clinicAuth: otp session cleanup failed", "error", err)
	}
	if err := e.keys.Delete(ctx, keystore.OTPKey(sess.Role, sess.Email)); err != nil {
		e.logger.WarnContext(ctx, "clinicAuth: otp code cleanup failed", "error", err)
	}
}

// VerifyOTP checks code against the session's outstanding OTP. A wrong code
// returns *InvalidOTPError until the attempt budget is spent, at which point
// the session is discarded. A correct code verifies the account and starts a
// new refresh family.
func (e *Engine) VerifyOTP(ctx context.Context, sessionID, code string) (*OTPVerifyResult, error) {
	if e == nil || e.otpSessions == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.otpSessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, otpsession.ErrNotFound) {
			return nil, ErrOTPSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !sess.Pending {
		return nil, ErrOTPSessionNotFound
	}
	role := Role(sess.Role)
	maxAttempts := e.config.OTP.MaxAttempts

	if sess.AttemptCount >= maxAttempts {
		e.clearOTPState(ctx, sess)
		return nil, ErrTooManyOTPAttempts
	}

	otpKey := keystore.OTPKey(sess.Role, sess.Email)
	stored, err := e.keys.Get(ctx, otpKey)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			e.metricInc(MetricOTPFailure)
			e.emitAudit(ctx, auditEventOTPFailure, false, "", role, "", ErrOTPExpired, nil)
			return nil, ErrOTPExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// The attempt is spent before the code is looked at, so concurrent
	// guesses share one budget.
	attempt, err := e.otpSessions.ReserveAttempt(ctx, sess.ID, maxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, otpsession.ErrAttemptsExhausted):
			e.clearOTPState(ctx, sess)
			return nil, ErrTooManyOTPAttempts
		case errors.Is(err, otpsession.ErrNotFound), errors.Is(err, otpsession.ErrNotPending):
			return nil, ErrOTPSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	acct, err := e.accounts.FindByEmail(ctx, role, sess.Email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if acct.Blocked() {
		e.metricInc(MetricAccountBlockedRejected)
		return nil, ErrAccountBlocked
	}

	if !flows.CodesEqual(strings.TrimSpace(code), stored) {
		e.metricInc(MetricOTPFailure)

		if attempt >= maxAttempts {
			e.clearOTPState(ctx, sess)
			e.metricInc(MetricOTPAttemptsExceeded)
			e.emitAudit(ctx, auditEventOTPAttemptsExceeded, false, acct.ID, role, "", ErrTooManyOTPAttempts, nil)
			return nil, ErrTooManyOTPAttempts
		}

		invalid := &InvalidOTPError{Remaining: flows.RemainingAttempts(attempt, maxAttempts)}
		e.emitAudit(ctx, auditEventOTPFailure, false, acct.ID, role, "", invalid, func() map[string]string {
			return map[string]string{"remaining": fmt.Sprint(invalid.Remaining)}
		})
		return nil, invalid
	}

	// Only one matching guess may turn the session into its tombstone.
	if err := e.otpSessions.MarkVerified(ctx, sess.ID); err != nil {
		if errors.Is(err, otpsession.ErrNotFound) || errors.Is(err, otpsession.ErrNotPending) {
			return nil, ErrOTPSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.accounts.MarkVerified(ctx, role, acct.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	acct.IsVerified = true
	acct.IsActive = true
	if acct.Status == StatusInactive {
		acct.Status = StatusActive
	}

	if err := e.keys.Delete(ctx, otpKey); err != nil {
		e.logger.WarnContext(ctx, "clinicAuth: otp code cleanup failed", "error", err)
	}

	e.dispatch(ctx, Notification{
		Kind: NotifySignupConfirmed,
		Role: role,
		To:   acct.Email,
		Name: acct.Name,
	})
	e.metricInc(MetricOTPVerified)

	pair, err := e.issuePair(ctx, acct.ID, role, "")
	if err != nil {
		e.emitAudit(ctx, auditEventOTPVerified, false, acct.ID, role, "", err, nil)
		if !errors.Is(err, ErrTokenIssue) {
			err = fmt.Errorf("%w: %w", ErrTokenIssue, err)
		}
		return nil, err
	}
	e.emitAudit(ctx, auditEventOTPVerified, true, acct.ID, role, pair.Family, nil, nil)

	return &OTPVerifyResult{Account: acct.Sanitized(), Tokens: *pair}, nil
}

// ResendOTP replaces the outstanding code, resets the attempt counter and
// extends the session, up to the configured number of resends.
func (e *Engine) ResendOTP(ctx context.Context, sessionID string) (*OTPSession, error) {
	if e == nil || e.otpSessions == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.otpSessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, otpsession.ErrNotFound) {
			return nil, ErrOTPSessionNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if sess.Verified {
		return nil, ErrAlreadyVerified
	}
	if !sess.Pending {
		return nil, ErrOTPSessionNotFound
	}
	role := Role(sess.Role)

	acct, err := e.accounts.FindByEmail(ctx, role, sess.Email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if acct.IsVerified {
		return nil, ErrAlreadyVerified
	}

	if sess.ResendCount >= e.config.OTP.MaxResends {
		e.metricInc(MetricOTPResendLimited)
		e.emitAudit(ctx, auditEventOTPResent, false, acct.ID, role, "", ErrResendLimitExceeded, nil)
		return nil, ErrResendLimitExceeded
	}
	if err := e.throttleMail(ctx, e.signupLimiter, "signup", role, sess.Email); err != nil {
		return nil, err
	}

	code, err := flows.GenerateCode(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}
	now := e.now()
	otpExpiry := now.Add(e.config.OTP.TTL)

	resends, err := e.otpSessions.Resend(ctx, sess.ID, e.config.OTP.MaxResends, otpExpiry)
	if err != nil {
		switch {
		case errors.Is(err, otpsession.ErrResendLimit):
			e.metricInc(MetricOTPResendLimited)
			return nil, ErrResendLimitExceeded
		case errors.Is(err, otpsession.ErrNotFound), errors.Is(err, otpsession.ErrNotPending):
			return nil, ErrOTPSessionNotFound
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	if err := e.keys.SetTTL(ctx, keystore.OTPKey(sess.Role, sess.Email), code, e.config.OTP.TTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.dispatch(ctx, Notification{
		Kind:  NotifySignupOTP,
		Role:  role,
		To:    sess.Email,
		Name:  acct.Name,
		OTP:   code,
		TTL:   e.config.OTP.TTL,
		RefID: sess.ID,
	})
	e.metricInc(MetricOTPResent)
	e.emitAudit(ctx, auditEventOTPResent, true, acct.ID, role, "", nil, func() map[string]string {
		return map[string]string{"resends": fmt.Sprint(resends)}
	})

	sess.AttemptCount = 0
	sess.ResendCount = resends
	sess.OTPExpiry = otpExpiry
	view := toOTPSession(sess)
	view.ExpiresAt = now.Add(e.otpSessions.TTL())
	return view, nil
}
