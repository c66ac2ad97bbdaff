package middleware

import (
	"context"
	"net"
	"net/http"

	clinicAuth "github.com/MrEthical07/clinicAuth"
)

// NoCache marks the response as uncacheable so a guarded page is never
// served from history after logout.
func NoCache(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Surrogate-Control", "no-store")
}

// NoCacheHandler applies NoCache to every response of next.
func NoCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		NoCache(w)
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of r.RemoteAddr. Proxies are expected to
// be resolved before this point, e.g. by chi's RealIP.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequestContext returns r's context carrying the client IP and user agent
// the engine records in throttles and audit events.
func RequestContext(r *http.Request) context.Context {
	ctx := clinicAuth.WithClientIP(r.Context(), ClientIP(r))
	if ua := r.UserAgent(); ua != "" {
		ctx = clinicAuth.WithUserAgent(ctx, ua)
	}
	return ctx
}
