package httpapi

import (
	"context"
	"net/http"
	"time"
)

// Checker probes one dependency.
type Checker func(ctx context.Context) error

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler runs every checker under a shared timeout and answers 503
// if any fails.
func healthHandler(checkers map[string]Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		out := healthStatus{Status: "up"}
		status := http.StatusOK
		if len(checkers) > 0 {
			out.Checks = make(map[string]string, len(checkers))
		}
		for name, check := range checkers {
			if err := check(ctx); err != nil {
				out.Checks[name] = "down: " + err.Error()
				out.Status = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			out.Checks[name] = "up"
		}
		writeJSON(w, status, out)
	}
}
