package clinicAuth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/MrEthical07/clinicAuth/internal"
	"github.com/MrEthical07/clinicAuth/keystore"
)

// RequestPasswordReset stores a single-use reset token for the account and
// mails a link carrying it. A second request replaces the first token.
func (e *Engine) RequestPasswordReset(ctx context.Context, role Role, email string) error {
	if e == nil || e.keys == nil {
		return ErrEngineNotReady
	}
	if !role.Valid() || role == RoleSuperAdmin {
		return ErrRoleNotAllowed
	}
	email = normalizeEmail(email)

	if err := e.throttleMail(ctx, e.resetLimiter, "reset", role, email); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return err
	}

	acct, err := e.accounts.FindByEmail(ctx, role, email)
	if err != nil {
		e.metricInc(MetricPasswordResetFailure)
		if errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", role, "", ErrAccountNotFound, nil)
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if acct.Blocked() {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, acct.ID, role, "", ErrAccountBlocked, nil)
		return ErrAccountBlocked
	}

	token, err := internal.NewResetToken(e.config.PasswordReset.TokenBytes)
	if err != nil {
		return err
	}
	if err := e.keys.SetTTL(ctx, keystore.ResetKey(string(role), email), token, e.config.PasswordReset.TTL); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.dispatch(ctx, Notification{
		Kind: NotifyPasswordReset,
		Role: role,
		To:   email,
		Name: acct.Name,
		Link: e.resetLink(role, email, token),
		TTL:  e.config.PasswordReset.TTL,
	})

	e.metricInc(MetricPasswordResetRequest)
	e.emitAudit(ctx, auditEventPasswordResetRequest, true, acct.ID, role, "", nil, nil)
	return nil
}

func (e *Engine) resetLink(role Role, email, token string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	base := strings.TrimRight(e.config.PasswordReset.BaseURL, "/")
	return base + "/" + string(role) + "/reset-password?" + q.Encode()
}

// ResetPassword consumes a reset token and replaces the password. Every
// refresh family of the account is revoked and the login throttle cleared.
func (e *Engine) ResetPassword(ctx context.Context, role Role, email, token, newPassword string) error {
	if e == nil || e.keys == nil {
		return ErrEngineNotReady
	}
	if !role.Valid() || role == RoleSuperAdmin {
		return ErrRoleNotAllowed
	}
	email = normalizeEmail(email)
	key := keystore.ResetKey(string(role), email)

	stored, err := e.keys.Get(ctx, key)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			e.resetFailure(ctx, role, "", ErrResetTokenInvalid)
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !internal.SecretEqual(strings.TrimSpace(token), stored) {
		e.resetFailure(ctx, role, "", ErrResetTokenInvalid)
		return ErrResetTokenInvalid
	}

	acct, err := e.accounts.FindByEmail(ctx, role, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.resetFailure(ctx, role, "", ErrAccountNotFound)
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if acct.Blocked() {
		e.resetFailure(ctx, role, acct.ID, ErrAccountBlocked)
		return ErrAccountBlocked
	}

	hash, err := e.hashNewPassword(newPassword)
	if err != nil {
		e.resetFailure(ctx, role, acct.ID, err)
		return err
	}
	// A rejected password keeps the token usable. Past this point the token
	// is spent, and only one of several concurrent submissions gets here.
	consumed, err := e.keys.Consume(ctx, key, stored)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !consumed {
		e.resetFailure(ctx, role, acct.ID, ErrResetTokenInvalid)
		return ErrResetTokenInvalid
	}
	if err := e.accounts.UpdatePasswordHash(ctx, role, acct.ID, hash); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	revoked, err := e.ledger.DeleteUser(ctx, string(role), acct.ID)
	if err != nil {
		e.logger.WarnContext(ctx, "clinicAuth: session revocation after reset failed", "role", string(role), "user_id", acct.ID, "error", err)
	}
	if err := e.rateLimiter.ResetLogin(ctx, string(role), email); err != nil {
		e.logger.WarnContext(ctx, "clinicAuth: login throttle reset failed", "role", string(role), "error", err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, true, acct.ID, role, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": fmt.Sprint(revoked)}
	})
	return nil
}

func (e *Engine) resetFailure(ctx context.Context, role Role, userID string, err error) {
	e.metricInc(MetricPasswordResetFailure)
	e.emitAudit(ctx, auditEventPasswordResetConfirm, false, userID, role, "", err, nil)
}

// SetupPassword sets the first password of an account created through
// OAuth. Accounts that already completed setup are refused.
func (e *Engine) SetupPassword(ctx context.Context, role Role, userID, newPassword string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}
	if !role.Valid() || role.IsAdmin() {
		return ErrRoleNotAllowed
	}

	acct, err := e.loadGuardedAccount(ctx, role, userID)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return ErrAccountNotFound
		}
		return err
	}
	if !acct.NeedsPasswordSetup {
		e.emitAudit(ctx, auditEventPasswordSetup, false, acct.ID, role, "", ErrPasswordAlreadySet, nil)
		return ErrPasswordAlreadySet
	}

	hash, err := e.hashNewPassword(newPassword)
	if err != nil {
		e.emitAudit(ctx, auditEventPasswordSetup, false, acct.ID, role, "", err, nil)
		return err
	}
	if err := e.accounts.CompletePasswordSetup(ctx, role, acct.ID, hash); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emitAudit(ctx, auditEventPasswordSetup, true, acct.ID, role, "", nil, nil)
	return nil
}
