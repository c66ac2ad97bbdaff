package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	clinicAuth "github.com/MrEthical07/clinicAuth"
	"github.com/MrEthical07/clinicAuth/middleware"
)

// Options wires the router's optional collaborators.
type Options struct {
	Logger *slog.Logger

	// Registry, when set, is served on /metrics and receives per-route
	// request counters.
	Registry *prometheus.Registry

	// Health checkers run on /healthz.
	Health map[string]Checker

	// OAuth maps a role to the provider exchanger behind
	// /{role}/oauth/callback. Roles without one get no callback route.
	OAuth map[clinicAuth.Role]clinicAuth.OAuthExchanger

	RateLimit RateLimitConfig

	// Now drives the per-IP limiter. Nil means time.Now.
	Now func() time.Time
}

type handler struct {
	engine  *clinicAuth.Engine
	cookies middleware.Cookies
	paths   clinicAuth.PathConfig
	logger  *slog.Logger
	oauth   map[clinicAuth.Role]clinicAuth.OAuthExchanger
	guard   []middleware.Option
}

// NewRouter builds the HTTP surface for engine.
func NewRouter(engine *clinicAuth.Engine, opts Options) (http.Handler, error) {
	if engine == nil {
		return nil, clinicAuth.ErrEngineNotReady
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := engine.Config()

	h := &handler{
		engine:  engine,
		cookies: middleware.NewCookies(cfg.Cookies),
		paths:   cfg.Paths,
		logger:  logger,
		oauth:   opts.OAuth,
		guard:   []middleware.Option{middleware.WithLogger(logger)},
	}

	var limiter *visitorStore
	if opts.RateLimit.RequestsPerSecond > 0 {
		limiter = newVisitorStore(opts.RateLimit, opts.Now)
	}
	limited := rateLimit(limiter, logger)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(requestLogging(logger))
	r.Use(recovery(logger))

	if opts.Registry != nil {
		m, err := newHTTPMetrics(opts.Registry)
		if err != nil {
			return nil, err
		}
		r.Use(m.middleware)
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", healthHandler(opts.Health))

	for _, role := range []clinicAuth.Role{clinicAuth.RolePatient, clinicAuth.RoleDoctor} {
		r.Route("/"+role.String(), func(r chi.Router) {
			h.mountRole(r, role, limited)
		})
	}
	r.Route("/admin", func(r chi.Router) {
		h.mountAdmin(r, limited)
	})

	return r, nil
}

func (h *handler) mountRole(r chi.Router, role clinicAuth.Role, limited func(http.Handler) http.Handler) {
	r.Use(middleware.NoCacheHandler)

	r.Group(func(r chi.Router) {
		r.Use(limited)
		r.Post("/login", h.login(role))
		r.Post("/forgot-password", h.forgotPassword(role))
		r.Post("/reset-password", h.resetPassword(role))
		if role == clinicAuth.RolePatient {
			r.Post("/signup", h.signup(role))
			r.Post("/verify-otp", h.verifyOTP(role))
			r.Post("/resend-otp", h.resendOTP)
		}
	})

	r.Post("/refresh", h.refresh(role))
	r.Post("/logout", h.logout(role))

	requireRole := middleware.RequireRole(h.engine, role, h.guard...)
	r.With(requireRole).Get("/me", h.me)

	if role == clinicAuth.RolePatient {
		r.With(middleware.RequireOTPSession(h.engine, role, h.guard...)).Get("/verify-otp", h.otpPending)
		r.With(requireRole).Post("/setup-password", h.setupPassword(role))
	}
	if ex, ok := h.oauth[role]; ok && ex != nil {
		r.Get("/oauth/callback", h.oauthCallback(role, ex))
	}
}

func (h *handler) mountAdmin(r chi.Router, limited func(http.Handler) http.Handler) {
	r.Use(middleware.NoCacheHandler)
	r.With(limited).Post("/login", h.adminLogin)
	r.Post("/logout", h.adminLogout)
	r.With(middleware.RequireAdmin(h.engine, h.guard...)).Get("/me", h.me)
}

// fail writes err and logs it when the cause is on our side.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		requestLogger(r, h.logger).ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	writeError(w, err)
}

// clearsPair reports whether a refresh failure leaves the cookie pair
// unusable. Throttling and backend failures keep it.
func clearsPair(err error) bool {
	switch StatusFor(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return errors.Is(err, clinicAuth.ErrAccountNotFound)
}
