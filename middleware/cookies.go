package middleware

import (
	"net/http"
	"time"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// Cookies reads and writes the session cookies named in CookieConfig.
type Cookies struct {
	cfg clinicAuth.CookieConfig
}

// NewCookies returns helpers for cfg.
func NewCookies(cfg clinicAuth.CookieConfig) Cookies {
	return Cookies{cfg: cfg}
}

func (c Cookies) Config() clinicAuth.CookieConfig { return c.cfg }

func (c Cookies) set(w http.ResponseWriter, name, value string, expires time.Time) {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge <= 0 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.cfg.Path,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: c.cfg.SameSite,
	})
}

func (c Cookies) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     c.cfg.Path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cfg.Secure,
		SameSite: c.cfg.SameSite,
	})
}

// SetPair writes the access and refresh cookies together.
func (c Cookies) SetPair(w http.ResponseWriter, pair *clinicAuth.TokenPair) {
	if pair == nil {
		return
	}
	c.set(w, c.cfg.AccessName, pair.AccessToken, pair.AccessExpiresAt)
	c.set(w, c.cfg.RefreshName, pair.RefreshToken, pair.RefreshExpiresAt)
}

// ClearPair expires both the access and refresh cookies.
func (c Cookies) ClearPair(w http.ResponseWriter) {
	c.clear(w, c.cfg.AccessName)
	c.clear(w, c.cfg.RefreshName)
}

func (c Cookies) SetAdmin(w http.ResponseWriter, sess *clinicAuth.AdminSession) {
	if sess == nil {
		return
	}
	c.set(w, c.cfg.AdminName, sess.Token, sess.ExpiresAt)
}

func (c Cookies) ClearAdmin(w http.ResponseWriter) {
	c.clear(w, c.cfg.AdminName)
}

func (c Cookies) SetOTPSession(w http.ResponseWriter, sess *clinicAuth.OTPSession) {
	if sess == nil {
		return
	}
	c.set(w, c.cfg.OTPName, sess.ID, sess.ExpiresAt)
}

func (c Cookies) ClearOTPSession(w http.ResponseWriter) {
	c.clear(w, c.cfg.OTPName)
}

func (c Cookies) Access(r *http.Request) string     { return readCookie(r, c.cfg.AccessName) }
func (c Cookies) Refresh(r *http.Request) string    { return readCookie(r, c.cfg.RefreshName) }
func (c Cookies) Admin(r *http.Request) string      { return readCookie(r, c.cfg.AdminName) }
func (c Cookies) OTPSession(r *http.Request) string { return readCookie(r, c.cfg.OTPName) }

func readCookie(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
