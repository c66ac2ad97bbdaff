package httpapi

import (
	"net/http"

	"github.com/MrEthical07/clinicAuth/middleware"
)

func (h *handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	sess, err := h.engine.AdminLogin(middleware.RequestContext(r), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.cookies.SetAdmin(w, sess)
	writeJSON(w, http.StatusOK, redirectBody{Redirect: h.paths.AdminHome, Message: "Login successful"})
}

// adminLogout only drops the cookie; admin tokens carry no server state.
func (h *handler) adminLogout(w http.ResponseWriter, _ *http.Request) {
	h.cookies.ClearAdmin(w)
	writeJSON(w, http.StatusOK, redirectBody{Redirect: h.paths.AdminLogin})
}
