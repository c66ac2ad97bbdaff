package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// Option customises a guard.
type Option func(*options)

type options struct {
	cookies Cookies
	paths   clinicAuth.PathConfig
	logger  *slog.Logger
}

// WithLogger sets the logger used for backend failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPaths overrides the redirect targets taken from the engine config.
func WithPaths(p clinicAuth.PathConfig) Option {
	return func(o *options) { o.paths = p }
}

func newOptions(engine *clinicAuth.Engine, opts []Option) options {
	cfg := engine.Config()
	o := options{
		cookies: NewCookies(cfg.Cookies),
		paths:   cfg.Paths,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func forbidden(w http.ResponseWriter, msg string) {
	http.Error(w, msg, http.StatusForbidden)
}

func unavailable(w http.ResponseWriter) {
	http.Error(w, "service unavailable", http.StatusServiceUnavailable)
}

func isBackendFailure(err error) bool {
	return errors.Is(err, clinicAuth.ErrStoreUnavailable) ||
		errors.Is(err, clinicAuth.ErrLedgerUnavailable) ||
		errors.Is(err, clinicAuth.ErrTokenIssue)
}

// RequireRole admits requests carrying a session of role. A lapsed access
// token is renewed from the refresh cookie and both cookies are rewritten.
//
// Failures:
//   - cross-role token: cookies cleared, 403 "access denied"
//   - blocked or inactive account: 403, cookies kept
//   - any other token failure: cookies cleared, 303 to the role's login page
func RequireRole(engine *clinicAuth.Engine, role clinicAuth.Role, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(engine, opts)
	loginPath := clinicAuth.RolePath(o.paths.Login, role)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			NoCache(w)
			ctx := RequestContext(r)

			res, err := engine.Authenticate(ctx, role, o.cookies.Access(r), o.cookies.Refresh(r))
			if err != nil {
				switch {
				case errors.Is(err, clinicAuth.ErrCrossRoleToken):
					o.cookies.ClearPair(w)
					forbidden(w, "access denied")
				case errors.Is(err, clinicAuth.ErrAccountBlocked):
					forbidden(w, "account blocked")
				case errors.Is(err, clinicAuth.ErrAccountInactive):
					forbidden(w, "account inactive")
				case isBackendFailure(err):
					o.logger.ErrorContext(ctx, "guard backend failure", "role", string(role), "error", err)
					unavailable(w)
				default:
					o.cookies.ClearPair(w)
					redirect(w, r, loginPath)
				}
				return
			}

			if res.Rotated != nil {
				o.cookies.SetPair(w, res.Rotated)
			}
			next.ServeHTTP(w, r.WithContext(clinicAuth.WithAuthResult(ctx, res)))
		})
	}
}

// RequireAdmin admits requests carrying an admin or super-admin session.
func RequireAdmin(engine *clinicAuth.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(engine, opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			NoCache(w)
			ctx := RequestContext(r)

			res, err := engine.AuthenticateAdmin(ctx, o.cookies.Admin(r))
			if err != nil {
				switch {
				case errors.Is(err, clinicAuth.ErrCrossRoleToken):
					o.cookies.ClearAdmin(w)
					forbidden(w, "access denied")
				case errors.Is(err, clinicAuth.ErrAccountBlocked):
					o.cookies.ClearAdmin(w)
					forbidden(w, "account blocked")
				case errors.Is(err, clinicAuth.ErrAccountInactive):
					o.cookies.ClearAdmin(w)
					forbidden(w, "account inactive")
				case isBackendFailure(err):
					o.logger.ErrorContext(ctx, "admin guard backend failure", "error", err)
					unavailable(w)
				default:
					o.cookies.ClearAdmin(w)
					redirect(w, r, o.paths.AdminLogin)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(clinicAuth.WithAuthResult(ctx, res)))
		})
	}
}

// RedirectIfAuthenticated sends visitors with a valid access or admin token
// to their dashboard. Login and signup pages sit behind it.
func RedirectIfAuthenticated(engine *clinicAuth.Engine, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(engine, opts)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := engine.Identify(o.cookies.Access(r), o.cookies.Admin(r))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			NoCache(w)
			redirect(w, r, DashboardPath(o.paths, role))
		})
	}
}

// DashboardPath is the landing page of role.
func DashboardPath(p clinicAuth.PathConfig, role clinicAuth.Role) string {
	if role.IsAdmin() {
		return p.AdminHome
	}
	return clinicAuth.RolePath(p.Dashboard, role)
}

// RequireOTPSession gates the OTP entry page of role on the session named by
// the OTP cookie. Verified sessions go on to the dashboard; missing, expired
// and exhausted ones go back to signup.
func RequireOTPSession(engine *clinicAuth.Engine, role clinicAuth.Role, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(engine, opts)
	signup := clinicAuth.RolePath(o.paths.Signup, role)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			NoCache(w)
			ctx := RequestContext(r)

			id := o.cookies.OTPSession(r)
			if id == "" {
				redirect(w, r, signup)
				return
			}

			gate, err := engine.GuardOTPSession(ctx, id)
			if err != nil {
				o.logger.ErrorContext(ctx, "otp guard backend failure", "error", err)
				unavailable(w)
				return
			}

			switch gate {
			case clinicAuth.OTPGateAllow:
				next.ServeHTTP(w, r.WithContext(ctx))
			case clinicAuth.OTPGateVerified:
				o.cookies.ClearOTPSession(w)
				redirect(w, r, DashboardPath(o.paths, role))
			case clinicAuth.OTPGateExpired:
				o.cookies.ClearOTPSession(w)
				redirect(w, r, signup+"?error=otp_expired")
			case clinicAuth.OTPGateTooManyAttempts:
				o.cookies.ClearOTPSession(w)
				redirect(w, r, signup+"?error=too_many_attempts")
			default:
				o.cookies.ClearOTPSession(w)
				redirect(w, r, signup)
			}
		})
	}
}
