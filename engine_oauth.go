package clinicAuth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CompleteOAuth finishes a provider sign-in: the code is exchanged for a
// verified profile, the account is found or created by email, and a new
// refresh family is started. Callers send accounts with NeedsPasswordSetup
// to the setup-password page.
func (e *Engine) CompleteOAuth(ctx context.Context, role Role, exchanger OAuthExchanger, code string) (*OAuthResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}
	if !role.Valid() || role.IsAdmin() {
		return nil, ErrRoleNotAllowed
	}
	if exchanger == nil || strings.TrimSpace(code) == "" {
		return nil, ErrOAuthExchange
	}

	profile, err := exchanger.Exchange(ctx, code)
	if err != nil {
		e.emitAudit(ctx, auditEventOAuthLogin, false, "", role, "", ErrOAuthExchange, nil)
		return nil, fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}
	profile.Email = normalizeEmail(profile.Email)
	if profile.Email == "" || profile.Subject == "" {
		return nil, ErrOAuthExchange
	}

	acct, err := e.accounts.UpsertOAuth(ctx, role, profile)
	if err != nil {
		if errors.Is(err, ErrAccountBlocked) {
			return nil, ErrAccountBlocked
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	switch {
	case acct.Blocked():
		e.metricInc(MetricAccountBlockedRejected)
		e.emitAudit(ctx, auditEventOAuthLogin, false, acct.ID, role, "", ErrAccountBlocked, nil)
		return nil, ErrAccountBlocked
	case acct.Inactive():
		e.metricInc(MetricAccountInactiveRejected)
		e.emitAudit(ctx, auditEventOAuthLogin, false, acct.ID, role, "", ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}

	pair, err := e.issuePair(ctx, acct.ID, role, "")
	if err != nil {
		e.emitAudit(ctx, auditEventOAuthLogin, false, acct.ID, role, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricOAuthLogin)
	e.emitAudit(ctx, auditEventOAuthLogin, true, acct.ID, role, pair.Family, nil, func() map[string]string {
		return map[string]string{"provider": profile.Provider}
	})

	return &OAuthResult{
		Account:            acct.Sanitized(),
		Tokens:             *pair,
		NeedsPasswordSetup: acct.NeedsPasswordSetup,
	}, nil
}
