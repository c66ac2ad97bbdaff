package flows

import (
	"context"
	"errors"
)

// LoginFailureKind classifies credential login failures.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRateLimited
	LoginFailureNotFound
	LoginFailureNoPassword
	LoginFailureCredentials
	LoginFailureBlocked
	LoginFailureInactive
	LoginFailureUnverified
	LoginFailureStore
)

func (k LoginFailureKind) String() string {
	switch k {
	case LoginFailureNone:
		return "none"
	case LoginFailureRateLimited:
		return "rate_limited"
	case LoginFailureNotFound:
		return "not_found"
	case LoginFailureNoPassword:
		return "no_password"
	case LoginFailureCredentials:
		return "invalid_credentials"
	case LoginFailureBlocked:
		return "blocked"
	case LoginFailureInactive:
		return "inactive"
	case LoginFailureUnverified:
		return "unverified"
	case LoginFailureStore:
		return "store"
	default:
		return "unknown"
	}
}

// LoginAccount is the flow-local view of an account.
type LoginAccount struct {
	ID           string
	PasswordHash string
	Blocked      bool
	Inactive     bool
	// RequiresVerification is true when the account may not log in until
	// its email is verified.
	RequiresVerification bool
}

// LoginDeps captures credential-login dependencies.
type LoginDeps struct {
	CheckRate      func(context.Context) error
	FindAccount    func(context.Context) (LoginAccount, error)
	VerifyPassword func(password, hash string) (bool, error)
	RecordFailure  func(context.Context)
	ResetFailures  func(context.Context)
	// NotFound is the error FindAccount returns for a missing account.
	NotFound error
}

// LoginOutcome is the result of RunLogin.
type LoginOutcome struct {
	Failure LoginFailureKind
	Err     error
	Account LoginAccount
}

// RunLogin checks the throttle, then the credential, then account status.
// Status is only revealed to callers who proved the password.
func RunLogin(ctx context.Context, password string, deps LoginDeps) LoginOutcome {
	if deps.CheckRate != nil {
		if err := deps.CheckRate(ctx); err != nil {
			return LoginOutcome{Failure: LoginFailureRateLimited, Err: err}
		}
	}

	acct, err := deps.FindAccount(ctx)
	if err != nil {
		if deps.NotFound != nil && errors.Is(err, deps.NotFound) {
			deps.recordFailure(ctx)
			return LoginOutcome{Failure: LoginFailureNotFound, Err: err}
		}
		return LoginOutcome{Failure: LoginFailureStore, Err: err}
	}

	if acct.PasswordHash == "" {
		return LoginOutcome{Failure: LoginFailureNoPassword, Account: acct}
	}

	ok, err := deps.VerifyPassword(password, acct.PasswordHash)
	if err != nil || !ok {
		deps.recordFailure(ctx)
		return LoginOutcome{Failure: LoginFailureCredentials, Err: err, Account: acct}
	}

	switch {
	case acct.Blocked:
		return LoginOutcome{Failure: LoginFailureBlocked, Account: acct}
	case acct.Inactive:
		return LoginOutcome{Failure: LoginFailureInactive, Account: acct}
	case acct.RequiresVerification:
		return LoginOutcome{Failure: LoginFailureUnverified, Account: acct}
	}

	if deps.ResetFailures != nil {
		deps.ResetFailures(ctx)
	}
	return LoginOutcome{Account: acct}
}

func (d LoginDeps) recordFailure(ctx context.Context) {
	if d.RecordFailure != nil {
		d.RecordFailure(ctx)
	}
}
