package clinicAuth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	internalaudit "github.com/MrEthical07/clinicAuth/internal/audit"
	"github.com/MrEthical07/clinicAuth/internal/flows"
	"github.com/MrEthical07/clinicAuth/internal/limiters"
	"github.com/MrEthical07/clinicAuth/internal/otpsession"
	"github.com/MrEthical07/clinicAuth/internal/rate"
	"github.com/MrEthical07/clinicAuth/jwt"
	"github.com/MrEthical07/clinicAuth/keystore"
	"github.com/MrEthical07/clinicAuth/ledger"
	"github.com/MrEthical07/clinicAuth/password"
)

// Engine is the session core. It is safe for concurrent use once built.
type Engine struct {
	config        Config
	ledger        ledger.Ledger
	keys          keystore.Store
	otpSessions   *otpsession.Store
	rateLimiter   *rate.Limiter
	signupLimiter *limiters.Window
	resetLimiter  *limiters.Window
	audit         *internalaudit.Dispatcher
	metrics       *Metrics
	passwords     *password.Verifier
	tokens        *jwt.Manager
	accounts      AccountStore
	mailer        Mailer
	logger        *slog.Logger
	now           func() time.Time
	flows         flows.Deps

	// mailMu orders dispatch's closed check and mailWG.Add against Close.
	mailMu sync.RWMutex
	mailWG sync.WaitGroup
	closed bool
}

// Close waits for in-flight notifications and drains the audit dispatcher.
// Call it after the HTTP server has stopped accepting requests.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mailMu.Lock()
	already := e.closed
	e.closed = true
	e.mailMu.Unlock()
	if already {
		return
	}
	e.mailWG.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return defaultConfig()
	}
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) buildFlowDeps() flows.Deps {
	return flows.Deps{
		Rotate: flows.RotateDeps{
			Now: e.now,
			ParseRefresh: func(tok string) (flows.RefreshClaims, error) {
				claims, err := e.tokens.Parse(tok, jwt.KindRefresh)
				if err != nil {
					return flows.RefreshClaims{}, err
				}
				return flows.RefreshClaims{UserID: claims.ID, Role: claims.Role, Family: claims.Family}, nil
			},
			IsExpired: jwt.IsExpired,
			IssueAccess: func(userID, role string) (flows.Token, error) {
				iss, err := e.tokens.IssueAccess(userID, role)
				return flows.Token{Value: iss.Token, ExpiresAt: iss.ExpiresAt}, err
			},
			IssueRefresh: func(userID, role, family string) (flows.Token, error) {
				iss, err := e.tokens.IssueRefresh(userID, role, family)
				return flows.Token{Value: iss.Token, ExpiresAt: iss.ExpiresAt}, err
			},
			Warn:        e.logger.Warn,
			RateLimiter: e.rateLimiter,
			Ledger:      e.ledger,
		},
		Logout: flows.LogoutDeps{
			Ledger: e.ledger,
		},
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// issuePair mints an access/refresh pair and persists the refresh record.
// An empty family starts a new one. Nothing is returned unless the record
// was stored.
func (e *Engine) issuePair(ctx context.Context, userID string, role Role, family string) (*TokenPair, error) {
	if family == "" {
		family = uuid.NewString()
	}

	access, err := e.tokens.IssueAccess(userID, string(role))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssue, err)
	}
	refresh, err := e.tokens.IssueRefresh(userID, string(role), family)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenIssue, err)
	}

	err = e.ledger.Create(ctx, ledger.Record{
		Token:     refresh.Token,
		UserID:    userID,
		Role:      string(role),
		Family:    family,
		ExpiresAt: refresh.ExpiresAt,
		CreatedAt: refresh.IssuedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		Family:           family,
	}, nil
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates a patient or doctor by email and password and starts a
// new refresh family. Admins use AdminLogin.
func (e *Engine) Login(ctx context.Context, role Role, email, password string) (*LoginResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if !role.Valid() || role.IsAdmin() {
		return nil, ErrRoleNotAllowed
	}
	email = normalizeEmail(email)

	var found *Account
	deps := e.loginDeps(role, email, func(ctx context.Context) (flows.LoginAccount, error) {
		acct, err := e.accounts.FindByEmail(ctx, role, email)
		if err != nil {
			return flows.LoginAccount{}, err
		}
		found = acct
		return flows.LoginAccount{
			ID:           acct.ID,
			PasswordHash: acct.PasswordHash,
			Blocked:      acct.Blocked(),
			Inactive:     acct.Inactive(),
			// Google-linked patients proved their email with the provider.
			RequiresVerification: role == RolePatient && !acct.IsVerified && acct.GoogleID == "",
		}, nil
	})

	out := flows.RunLogin(ctx, password, deps)
	if out.Failure != flows.LoginFailureNone {
		return nil, e.loginFailure(ctx, role, email, out, MetricLoginFailure, auditEventLoginFailure)
	}

	e.maybeUpgradeHash(ctx, role, found, password)

	pair, err := e.issuePair(ctx, found.ID, role, "")
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, found.ID, role, "", err, nil)
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, found.ID, role, pair.Family, nil, nil)

	return &LoginResult{Account: found.Sanitized(), Tokens: *pair}, nil
}

func (e *Engine) loginDeps(role Role, email string, find func(context.Context) (flows.LoginAccount, error)) flows.LoginDeps {
	return flows.LoginDeps{
		CheckRate: func(ctx context.Context) error {
			return e.rateLimiter.CheckLogin(ctx, string(role), email, clientIPFromContext(ctx))
		},
		FindAccount:    find,
		VerifyPassword: e.passwords.Verify,
		RecordFailure: func(ctx context.Context) {
			if err := e.rateLimiter.IncrementLogin(ctx, string(role), email, clientIPFromContext(ctx)); err != nil {
				e.logger.WarnContext(ctx, "clinicAuth: login throttle increment failed", "role", string(role), "error", err)
			}
		},
		ResetFailures: func(ctx context.Context) {
			if err := e.rateLimiter.ResetLogin(ctx, string(role), email); err != nil {
				e.logger.WarnContext(ctx, "clinicAuth: login throttle reset failed", "role", string(role), "error", err)
			}
		},
		NotFound: ErrAccountNotFound,
	}
}

func (e *Engine) loginFailure(ctx context.Context, role Role, email string, out flows.LoginOutcome, failureMetric MetricID, event string) error {
	var err error
	switch out.Failure {
	case flows.LoginFailureRateLimited:
		if !errors.Is(out.Err, rate.ErrRateLimited) {
			err = fmt.Errorf("%w: %v", ErrStoreUnavailable, out.Err)
			break
		}
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", role, "", ErrLoginRateLimited, nil)
		e.emitRateLimit(ctx, "login", role, func() map[string]string {
			return map[string]string{"identifier": email}
		})
		return ErrLoginRateLimited
	case flows.LoginFailureNotFound:
		err = ErrAccountNotFound
	case flows.LoginFailureNoPassword:
		err = ErrPasswordNotSet
	case flows.LoginFailureCredentials:
		err = ErrInvalidCredentials
	case flows.LoginFailureBlocked:
		e.metricInc(MetricAccountBlockedRejected)
		err = ErrAccountBlocked
	case flows.LoginFailureInactive:
		e.metricInc(MetricAccountInactiveRejected)
		err = ErrAccountInactive
	case flows.LoginFailureUnverified:
		err = ErrAccountUnverified
	default:
		err = fmt.Errorf("%w: %v", ErrStoreUnavailable, out.Err)
	}

	e.metricInc(failureMetric)
	e.emitAudit(ctx, event, false, out.Account.ID, role, "", err, nil)
	return err
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, role Role, acct *Account, plain string) {
	if !e.config.Password.UpgradeOnLogin || acct == nil || !acct.IsVerified {
		return
	}
	if !e.passwords.NeedsUpgrade(acct.PasswordHash) {
		return
	}
	hash, err := e.passwords.Hash(plain)
	if err != nil {
		return
	}
	if err := e.accounts.UpdatePasswordHash(ctx, role, acct.ID, hash); err != nil {
		e.logger.WarnContext(ctx, "clinicAuth: password hash upgrade failed", "role", string(role), "user_id", acct.ID, "error", err)
	}
}

/*
====================================
REFRESH / LOGOUT
====================================
*/

// Refresh redeems a refresh token of any role for a new pair in the same
// family.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	pair, _, err := e.rotate(ctx, "", refreshToken)
	return pair, err
}

// RefreshAs is Refresh restricted to tokens of role. A token of another role
// is rejected before the ledger is touched.
func (e *Engine) RefreshAs(ctx context.Context, role Role, refreshToken string) (*TokenPair, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if !role.Valid() || role.IsAdmin() {
		return nil, ErrRoleNotAllowed
	}
	pair, _, err := e.rotate(ctx, role, refreshToken)
	return pair, err
}

func (e *Engine) rotate(ctx context.Context, expected Role, refreshToken string) (*TokenPair, flows.RotateResult, error) {
	deps := e.flows.Rotate
	deps.ExpectedRole = string(expected)

	res := flows.RunRotate(ctx, refreshToken, deps)
	role := Role(res.Role)

	switch res.Failure {
	case flows.RotateFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, role, res.Family, nil, nil)
		return &TokenPair{
			AccessToken:      res.Access.Value,
			RefreshToken:     res.Refresh.Value,
			AccessExpiresAt:  res.Access.ExpiresAt,
			RefreshExpiresAt: res.Refresh.ExpiresAt,
			Family:           res.Family,
		}, res, nil
	case flows.RotateFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricFamilyRevoked)
		e.securityEvent(ctx, auditEventRefreshReuseDetected, res.UserID, role, res.Family, ErrTokenReuseDetected, func() map[string]string {
			return map[string]string{"revoked": fmt.Sprint(res.Revoked)}
		})
		return nil, res, ErrTokenReuseDetected
	case flows.RotateFailureCrossRole:
		e.crossRole(ctx, res.UserID, expected, role, "refresh")
		return nil, res, ErrCrossRoleToken
	case flows.RotateFailureRateLimited:
		e.metricInc(MetricRefreshFailure)
		if !errors.Is(res.Err, rate.ErrRateLimited) {
			return nil, res, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
		}
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, res.UserID, role, res.Family, ErrRefreshRateLimited, nil)
		e.emitRateLimit(ctx, "refresh", role, func() map[string]string {
			return map[string]string{"family": res.Family}
		})
		return nil, res, ErrRefreshRateLimited
	}

	var err error
	switch res.Failure {
	case flows.RotateFailureExpired:
		err = ErrRefreshExpired
	case flows.RotateFailureIssue:
		err = fmt.Errorf("%w: %v", ErrTokenIssue, res.Err)
	case flows.RotateFailureLedger:
		err = fmt.Errorf("%w: %v", ErrLedgerUnavailable, res.Err)
	default:
		err = ErrInvalidToken
	}
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, res.UserID, role, res.Family, err, func() map[string]string {
		return map[string]string{"reason": res.Failure.String()}
	})
	return nil, res, err
}

func (e *Engine) crossRole(ctx context.Context, userID string, expected, got Role, kind string) {
	e.metricInc(MetricCrossRoleRejected)
	e.securityEvent(ctx, auditEventCrossRoleRejected, userID, got, "", ErrCrossRoleToken, func() map[string]string {
		return map[string]string{"expected_role": string(expected), "token": kind}
	})
}

// Logout revokes the family of refreshToken. Without a usable token it
// revokes every family of (role, userID) when userID is known.
func (e *Engine) Logout(ctx context.Context, role Role, userID, refreshToken string) error {
	if e == nil || e.ledger == nil {
		return ErrEngineNotReady
	}
	res := flows.RunLogout(ctx, string(role), userID, refreshToken, e.flows.Logout)
	if res.Err != nil {
		e.emitAudit(ctx, auditEventLogout, false, userID, role, res.Family, ErrLedgerUnavailable, nil)
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, res.Err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, role, res.Family, nil, func() map[string]string {
		return map[string]string{"revoked": fmt.Sprint(res.Revoked)}
	})
	return nil
}

// PurgeExpiredRefreshTokens removes ledger records past expiry. It is meant
// for an external scheduler; nothing in the engine calls it.
func (e *Engine) PurgeExpiredRefreshTokens(ctx context.Context) (int, error) {
	if e == nil || e.ledger == nil {
		return 0, ErrEngineNotReady
	}
	n, err := e.ledger.DeleteExpired(ctx, e.now())
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return n, nil
}

/*
====================================
GUARDS
====================================
*/

// Authenticate resolves the caller of a patient or doctor route.
//
// A valid access token of role is accepted as is. Otherwise the refresh
// token is rotated and AuthResult.Rotated carries the new pair, which the
// caller must deliver. Tokens of another role fail with ErrCrossRoleToken
// and never reach the ledger. Blocked and inactive accounts are refused
// before any rotation.
func (e *Engine) Authenticate(ctx context.Context, role Role, accessToken, refreshToken string) (*AuthResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	if !role.Valid() || role.IsAdmin() {
		return nil, ErrRoleNotAllowed
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()
	}

	if accessToken != "" {
		if claims, err := e.tokens.Parse(accessToken, jwt.KindAccess); err == nil {
			if claims.Role != string(role) {
				e.crossRole(ctx, claims.ID, role, Role(claims.Role), "access")
				return nil, ErrCrossRoleToken
			}
			acct, err := e.loadGuardedAccount(ctx, role, claims.ID)
			if err != nil {
				return nil, err
			}
			return &AuthResult{UserID: claims.ID, Role: role, Account: *acct}, nil
		}
	}

	if refreshToken == "" {
		return nil, ErrInvalidToken
	}

	var acct *Account
	if claims, err := e.tokens.Parse(refreshToken, jwt.KindRefresh); err == nil {
		if claims.Role != string(role) {
			e.crossRole(ctx, claims.ID, role, Role(claims.Role), "refresh")
			return nil, ErrCrossRoleToken
		}
		if acct, err = e.loadGuardedAccount(ctx, role, claims.ID); err != nil {
			return nil, err
		}
	}

	pair, res, err := e.rotate(ctx, role, refreshToken)
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.ID != res.UserID {
		if acct, err = e.loadGuardedAccount(ctx, role, res.UserID); err != nil {
			return nil, err
		}
	}

	return &AuthResult{UserID: res.UserID, Role: role, Account: *acct, Rotated: pair}, nil
}

func (e *Engine) loadGuardedAccount(ctx context.Context, role Role, id string) (*Account, error) {
	acct, err := e.accounts.FindByID(ctx, role, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch {
	case acct.Blocked():
		e.metricInc(MetricAccountBlockedRejected)
		e.emitAudit(ctx, auditEventAccountStatusRejected, false, id, role, "", ErrAccountBlocked, nil)
		return nil, ErrAccountBlocked
	case acct.Inactive():
		e.metricInc(MetricAccountInactiveRejected)
		e.emitAudit(ctx, auditEventAccountStatusRejected, false, id, role, "", ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}
	return acct, nil
}

// Identify reports the role of a valid access or admin token without
// touching any store. Pages such as login use it to send signed-in users to
// their dashboard.
func (e *Engine) Identify(accessToken, adminToken string) (Role, bool) {
	if e == nil || e.tokens == nil {
		return "", false
	}
	if claims := e.tokens.Verify(accessToken, jwt.KindAccess); claims != nil {
		if r, ok := ParseRole(claims.Role); ok {
			return r, true
		}
	}
	if claims := e.tokens.Verify(adminToken, jwt.KindAdmin); claims != nil {
		if r, ok := ParseRole(claims.Role); ok && r.IsAdmin() {
			return r, true
		}
	}
	return "", false
}

// AccessSubject returns the user and role of a valid access token. Logout
// uses it to find the user when no refresh token identifies the family.
func (e *Engine) AccessSubject(accessToken string) (string, Role, bool) {
	if e == nil || e.tokens == nil {
		return "", "", false
	}
	claims := e.tokens.Verify(accessToken, jwt.KindAccess)
	if claims == nil || claims.ID == "" {
		return "", "", false
	}
	r, ok := ParseRole(claims.Role)
	if !ok {
		return "", "", false
	}
	return claims.ID, r, true
}

/*
====================================
ADMIN SESSION
====================================
*/

// AdminLogin authenticates the configured super-admin or an admin account
// and mints a single admin-session token. Admin sessions never rotate.
func (e *Engine) AdminLogin(ctx context.Context, email, password string) (*AdminSession, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)

	role := RoleAdmin
	var found *Account
	find := func(ctx context.Context) (flows.LoginAccount, error) {
		acct, err := e.accounts.FindByEmail(ctx, RoleAdmin, email)
		if err != nil {
			return flows.LoginAccount{}, err
		}
		found = acct
		return flows.LoginAccount{
			ID:           acct.ID,
			PasswordHash: acct.PasswordHash,
			Blocked:      acct.Blocked(),
			Inactive:     acct.Inactive(),
		}, nil
	}
	if super := normalizeEmail(e.config.SuperAdmin.Email); super != "" && email == super {
		role = RoleSuperAdmin
		find = func(context.Context) (flows.LoginAccount, error) {
			return flows.LoginAccount{ID: SuperAdminID, PasswordHash: e.config.SuperAdmin.PasswordHash}, nil
		}
	}

	out := flows.RunLogin(ctx, password, e.loginDeps(RoleAdmin, email, find))
	if out.Failure != flows.LoginFailureNone {
		return nil, e.loginFailure(ctx, role, email, out, MetricAdminLoginFailure, auditEventAdminLoginFailure)
	}

	iss, err := e.tokens.IssueAdmin(out.Account.ID, string(role))
	if err != nil {
		e.metricInc(MetricAdminLoginFailure)
		return nil, fmt.Errorf("%w: %v", ErrTokenIssue, err)
	}

	e.metricInc(MetricAdminLoginSuccess)
	e.emitAudit(ctx, auditEventAdminLoginSuccess, true, out.Account.ID, role, "", nil, nil)

	sess := &AdminSession{
		UserID:    out.Account.ID,
		Role:      role,
		Token:     iss.Token,
		ExpiresAt: iss.ExpiresAt,
	}
	if found != nil {
		acct := found.Sanitized()
		sess.Account = &acct
	}
	return sess, nil
}

// AuthenticateAdmin resolves the caller of an admin route from the admin
// token. The super-admin has no account row and skips the status checks.
func (e *Engine) AuthenticateAdmin(ctx context.Context, adminToken string) (*AuthResult, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.Parse(adminToken, jwt.KindAdmin)
	if err != nil {
		return nil, ErrInvalidToken
	}

	role, ok := ParseRole(claims.Role)
	if !ok || !role.IsAdmin() {
		e.crossRole(ctx, claims.ID, RoleAdmin, Role(claims.Role), "admin")
		return nil, ErrCrossRoleToken
	}

	if role == RoleSuperAdmin {
		if claims.ID != SuperAdminID || e.config.SuperAdmin.Email == "" {
			return nil, ErrInvalidToken
		}
		return &AuthResult{
			UserID: SuperAdminID,
			Role:   RoleSuperAdmin,
			Account: Account{
				ID:         SuperAdminID,
				Role:       RoleSuperAdmin,
				Email:      normalizeEmail(e.config.SuperAdmin.Email),
				Name:       "Super Admin",
				IsActive:   true,
				IsVerified: true,
				Status:     StatusActive,
			},
		}, nil
	}

	acct, err := e.loadGuardedAccount(ctx, RoleAdmin, claims.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{UserID: claims.ID, Role: RoleAdmin, Account: *acct}, nil
}

/*
====================================
NOTIFICATIONS
====================================
*/

// dispatch hands n to the mailer on a detached goroutine. The request never
// waits for it and a failure is only logged.
func (e *Engine) dispatch(ctx context.Context, n Notification) {
	if e.mailer == nil {
		e.logger.DebugContext(ctx, "clinicAuth: no mailer configured, notification dropped", "kind", string(n.Kind), "role", string(n.Role))
		return
	}
	e.mailMu.RLock()
	if e.closed {
		e.mailMu.RUnlock()
		e.logger.WarnContext(ctx, "clinicAuth: engine closed, notification dropped", "kind", string(n.Kind))
		return
	}
	e.mailWG.Add(1)
	e.mailMu.RUnlock()

	go func() {
		defer e.mailWG.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Mail.DispatchTimeout)
		defer cancel()
		if err := e.mailer.Send(sendCtx, n); err != nil {
			e.metricInc(MetricMailDispatchFailure)
			e.logger.Warn("clinicAuth: notification dispatch failed",
				"kind", string(n.Kind),
				"role", string(n.Role),
				"error", err,
			)
		}
	}()
}
