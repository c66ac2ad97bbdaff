package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/clinicAuth/ledger"
)

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Ledger ledger.Ledger
}

// LogoutResult reports what was revoked.
type LogoutResult struct {
	Family  string
	Revoked int
	Err     error
}

// RunLogout revokes the family of the presented refresh token. Lookup is by
// ledger record rather than by parsing, so an expired token still ends its
// family. Without a usable token it falls back to every family of userID.
func RunLogout(ctx context.Context, role, userID, refreshToken string, deps LogoutDeps) LogoutResult {
	if refreshToken != "" {
		rec, err := deps.Ledger.Get(ctx, refreshToken)
		switch {
		case err == nil:
			n, delErr := deps.Ledger.DeleteFamily(ctx, rec.Family)
			return LogoutResult{Family: rec.Family, Revoked: n, Err: delErr}
		case !errors.Is(err, ledger.ErrRecordNotFound):
			return LogoutResult{Err: err}
		}
	}

	if userID == "" || role == "" {
		return LogoutResult{}
	}
	n, err := deps.Ledger.DeleteUser(ctx, role, userID)
	return LogoutResult{Revoked: n, Err: err}
}
