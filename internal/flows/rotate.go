package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/clinicAuth/ledger"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureInvalid
	RotateFailureExpired
	RotateFailureReuse
	RotateFailureCrossRole
	RotateFailureRateLimited
	RotateFailureIssue
	RotateFailureLedger
)

func (k RotateFailureKind) String() string {
	switch k {
	case RotateFailureNone:
		return "none"
	case RotateFailureInvalid:
		return "invalid"
	case RotateFailureExpired:
		return "expired"
	case RotateFailureReuse:
		return "reuse"
	case RotateFailureCrossRole:
		return "cross_role"
	case RotateFailureRateLimited:
		return "rate_limited"
	case RotateFailureIssue:
		return "issue"
	case RotateFailureLedger:
		return "ledger"
	default:
		return "unknown"
	}
}

// RefreshClaims is the subset of refresh-token claims rotation needs.
type RefreshClaims struct {
	UserID string
	Role   string
	Family string
}

// RotateResult carries either the new pair or failure metadata. UserID,
// Role and Family are filled as soon as the presented token parses.
type RotateResult struct {
	Failure RotateFailureKind
	Err     error
	UserID  string
	Role    string
	Family  string
	// Revoked is the number of records removed by a reuse-triggered
	// family revocation.
	Revoked int
	Access  Token
	Refresh Token
}

// RotateDeps captures rotation dependencies.
type RotateDeps struct {
	// ExpectedRole rejects tokens of any other role before the ledger is
	// touched. Empty accepts every role.
	ExpectedRole string
	Now          func() time.Time
	ParseRefresh func(string) (RefreshClaims, error)
	// IsExpired reports whether a ParseRefresh error means "well signed but
	// past exp".
	IsExpired    func(error) bool
	IssueAccess  func(userID, role string) (Token, error)
	IssueRefresh func(userID, role, family string) (Token, error)
	Warn         func(string, ...any)
	RateLimiter  RefreshRateLimiter
	Ledger       ledger.Ledger
}

// RunRotate redeems refreshToken for a new access/refresh pair in the same
// family. The presented token is consumed atomically by Ledger.Rotate, so of
// two concurrent redemptions exactly one succeeds and the other revokes the
// family.
func RunRotate(ctx context.Context, refreshToken string, deps RotateDeps) RotateResult {
	claims, err := deps.ParseRefresh(refreshToken)
	if err != nil {
		if deps.IsExpired != nil && deps.IsExpired(err) {
			if delErr := deps.Ledger.DeleteToken(ctx, refreshToken); delErr != nil {
				deps.warn("clinicAuth: expired refresh record cleanup failed", "error", delErr)
			}
			return RotateResult{Failure: RotateFailureExpired, Err: err}
		}
		return RotateResult{Failure: RotateFailureInvalid, Err: err}
	}

	res := RotateResult{
		UserID: claims.UserID,
		Role:   claims.Role,
		Family: claims.Family,
	}

	if deps.ExpectedRole != "" && claims.Role != deps.ExpectedRole {
		res.Failure = RotateFailureCrossRole
		return res
	}

	if deps.RateLimiter != nil {
		if err := deps.RateLimiter.CheckRefresh(ctx, claims.Family); err != nil {
			res.Failure = RotateFailureRateLimited
			res.Err = err
			return res
		}
	}

	rec, err := deps.Ledger.Get(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ledger.ErrRecordNotFound) {
			res.Failure = RotateFailureInvalid
		} else {
			res.Failure = RotateFailureLedger
		}
		res.Err = err
		return res
	}

	if rec.UserID != claims.UserID || rec.Role != claims.Role || rec.Family != claims.Family {
		res.Failure = RotateFailureInvalid
		res.Err = errors.New("refresh record does not match token claims")
		return res
	}

	if rec.IsUsed {
		return revokeFamily(ctx, deps, res, ledger.ErrRecordUsed)
	}

	now := deps.Now()
	if !rec.ExpiresAt.After(now) {
		if delErr := deps.Ledger.DeleteToken(ctx, refreshToken); delErr != nil {
			deps.warn("clinicAuth: expired refresh record cleanup failed", "error", delErr)
		}
		res.Failure = RotateFailureExpired
		return res
	}

	access, err := deps.IssueAccess(claims.UserID, claims.Role)
	if err != nil {
		res.Failure = RotateFailureIssue
		res.Err = err
		return res
	}
	refresh, err := deps.IssueRefresh(claims.UserID, claims.Role, claims.Family)
	if err != nil {
		res.Failure = RotateFailureIssue
		res.Err = err
		return res
	}

	next := ledger.Record{
		Token:     refresh.Value,
		UserID:    claims.UserID,
		Role:      claims.Role,
		Family:    claims.Family,
		ExpiresAt: refresh.ExpiresAt,
		CreatedAt: now,
	}
	if err := deps.Ledger.Rotate(ctx, refreshToken, next); err != nil {
		switch {
		case errors.Is(err, ledger.ErrRecordUsed):
			// Lost the race against a concurrent redemption.
			return revokeFamily(ctx, deps, res, err)
		case errors.Is(err, ledger.ErrRecordNotFound):
			res.Failure = RotateFailureInvalid
		default:
			res.Failure = RotateFailureLedger
		}
		res.Err = err
		return res
	}

	res.Access = access
	res.Refresh = refresh
	return res
}

func revokeFamily(ctx context.Context, deps RotateDeps, res RotateResult, cause error) RotateResult {
	n, err := deps.Ledger.DeleteFamily(ctx, res.Family)
	if err != nil {
		deps.warn("clinicAuth: family revocation failed", "family", res.Family, "error", err)
	}
	res.Failure = RotateFailureReuse
	res.Err = cause
	res.Revoked = n
	return res
}

func (d RotateDeps) warn(msg string, args ...any) {
	if d.Warn != nil {
		d.Warn(msg, args...)
	}
}
