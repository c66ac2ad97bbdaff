package httpapi

import (
	"errors"
	"net/http"

	clinicAuth "github.com/MrEthical07/clinicAuth"
	"github.com/MrEthical07/clinicAuth/middleware"
)

type signupResponse struct {
	Message     string `json:"message"`
	RequiresOTP bool   `json:"requiresOtp"`
}

func (h *handler) signup(role clinicAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req signupRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}

		res, err := h.engine.Signup(middleware.RequestContext(r), role, clinicAuth.SignupInput{
			Name:     req.Name,
			Email:    req.Email,
			Phone:    req.Phone,
			Password: req.Password,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}

		h.cookies.SetOTPSession(w, res.Session)
		if res.Reactivated {
			writeJSON(w, http.StatusOK, signupResponse{
				Message:     "Account reactivated! Please verify your email with the OTP sent.",
				RequiresOTP: true,
			})
			return
		}
		writeJSON(w, http.StatusCreated, signupResponse{Message: "OTP sent to your email", RequiresOTP: true})
	}
}

func (h *handler) verifyOTP(role clinicAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req otpRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		id := h.cookies.OTPSession(r)
		if id == "" {
			h.fail(w, r, clinicAuth.ErrOTPSessionNotFound)
			return
		}

		res, err := h.engine.VerifyOTP(middleware.RequestContext(r), id, req.OTP)
		if err != nil {
			if errors.Is(err, clinicAuth.ErrTooManyOTPAttempts) || errors.Is(err, clinicAuth.ErrOTPSessionNotFound) {
				h.cookies.ClearOTPSession(w)
			}
			h.fail(w, r, err)
			return
		}

		h.cookies.ClearOTPSession(w)
		h.cookies.SetPair(w, &res.Tokens)
		writeJSON(w, http.StatusOK, redirectBody{
			Redirect: middleware.DashboardPath(h.paths, role),
			Message:  "Email verified successfully! Redirecting to dashboard...",
		})
	}
}

func (h *handler) resendOTP(w http.ResponseWriter, r *http.Request) {
	id := h.cookies.OTPSession(r)
	if id == "" {
		h.fail(w, r, clinicAuth.ErrOTPSessionNotFound)
		return
	}
	sess, err := h.engine.ResendOTP(middleware.RequestContext(r), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.cookies.SetOTPSession(w, sess)
	writeJSON(w, http.StatusOK, messageBody{Message: "New OTP sent to your email!"})
}

// otpPending is only reached through the OTP session guard.
func (h *handler) otpPending(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"pending": true})
}

func (h *handler) setupPassword(role clinicAuth.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req setupPasswordRequest
		if err := decodeAndValidate(w, r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		res, ok := clinicAuth.AuthResultFromContext(r.Context())
		if !ok {
			h.fail(w, r, clinicAuth.ErrInvalidToken)
			return
		}
		if err := h.engine.SetupPassword(r.Context(), role, res.UserID, req.Password); err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, redirectBody{
			Redirect: middleware.DashboardPath(h.paths, role),
			Message:  "Password set successfully!",
		})
	}
}
