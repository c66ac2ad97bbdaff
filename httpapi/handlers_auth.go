package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	clinicAuth "github.com/MrEthical07/clinicAuth"
	"github.com/MrEthical07/clinicAuth/middleware"
)

type accountView struct {
	ID                 string    `json:"id"`
	Role               string    `json:"role"`
	Email              string    `json:"email"`
	Name               string    `json:"name,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	IsVerified         bool      `json:"isVerified"`
	Status             string    `json:"status,omitempty"`
	NeedsPasswordSetup bool      `json:"needsPasswordSetup"`
	CreatedAt          time.Time `json:"createdAt,omitzero"`
}

func viewOf(a clinicAuth.Account) accountView {
	return accountView{
		ID:                 a.ID,
		Role:               a.Role.String(),
		Email:              a.Email,
		Name:               a.Name,
		Phone:              a.Phone,
		IsVerified:         a.IsVerified,
		Status:             string(a.Status),
		NeedsPasswordSetup: a.NeedsPasswordSetup,
		CreatedAt:          a.CreatedAt,
	}
}

func (h *handler) login(role clinicAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}

		res, err := h.engine.Login(middleware.RequestContext(r), role, req.Email, req.Password)
		if err != nil {
			h.fail(w, r, err)
			return
		}

		h.cookies.SetPair(w, &res.Tokens)
		writeJSON(w, http.StatusOK, redirectBody{
			Redirect: middleware.DashboardPath(h.paths, role),
			Message:  "Login successful",
		})
	}
}

func (h *handler) refresh(role clinicAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pair, err := h.engine.RefreshAs(middleware.RequestContext(r), role, h.cookies.Refresh(r))
		if err != nil {
			if clearsPair(err) {
				h.cookies.ClearPair(w)
			}
			h.fail(w, r, err)
			return
		}
		h.cookies.SetPair(w, pair)
		writeJSON(w, http.StatusOK, messageBody{Message: "Session refreshed"})
	}
}

// logout always clears the cookies. A ledger failure is still reported so
// the client knows the family may survive until expiry. When the refresh
// cookie is gone, a valid access cookie of the same role names the user
// whose families are revoked instead.
func (h *handler) logout(role clinicAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var userID string
		if id, tokenRole, ok := h.engine.AccessSubject(h.cookies.Access(r)); ok && tokenRole == role {
			userID = id
		}
		err := h.engine.Logout(middleware.RequestContext(r), role, userID, h.cookies.Refresh(r))
		h.cookies.ClearPair(w)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, redirectBody{Redirect: clinicAuth.RolePath(h.paths.Login, role)})
	}
}

// me answers for both role and admin guards.
func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	res, ok := clinicAuth.AuthResultFromContext(r.Context())
	if !ok {
		h.fail(w, r, clinicAuth.ErrInvalidToken)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(res.Account))
}

func (h *handler) forgotPassword(role clinicAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req forgotPasswordRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		if err := h.engine.RequestPasswordReset(middleware.RequestContext(r), role, req.Email); err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, messageBody{Message: "Check your email for the reset link."})
	}
}

func (h *handler) resetPassword(role clinicAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resetPasswordRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		err := h.engine.ResetPassword(middleware.RequestContext(r), role, req.Email, req.Token, req.Password)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		// Every family was revoked; drop whatever this browser still holds.
		h.cookies.ClearPair(w)
		writeJSON(w, http.StatusOK, redirectBody{
			Redirect: clinicAuth.RolePath(h.paths.Login, role),
			Message:  "Password reset successfully! You can now login.",
		})
	}
}

// oauthCallback completes a provider sign-in. Failures go back to the login
// page with an error marker since the browser arrives here by redirect.
func (h *handler) oauthCallback(role clinicAuth.Role, ex clinicAuth.OAuthExchanger) http.HandlerFunc {
	loginPath := clinicAuth.RolePath(h.paths.Login, role)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.RequestContext(r)
		res, err := h.engine.CompleteOAuth(ctx, role, ex, r.URL.Query().Get("code"))
		if err != nil {
			requestLogger(r, h.logger).WarnContext(ctx, "oauth callback failed",
				slog.String("role", role.String()),
				slog.String("error", err.Error()),
			)
			http.Redirect(w, r, loginPath+"?error=oauth_failed", http.StatusSeeOther)
			return
		}

		h.cookies.SetPair(w, &res.Tokens)
		next := middleware.DashboardPath(h.paths, role)
		if res.NeedsPasswordSetup {
			next = clinicAuth.RolePath(h.paths.SetupPassword, role)
		}
		http.Redirect(w, r, next, http.StatusSeeOther)
	}
}
