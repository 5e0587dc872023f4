// Package health provides HTTP liveness and readiness handlers.
//
//   - /healthz — liveness; always 200 while the process serves HTTP.
//   - /readyz  — readiness; 200 only when every registered [Checker]
//     (database connectivity, configured LLM providers) passes.
//
// Responses are JSON with a top-level "status" ("ok" or "fail") and a
// "checks" map of per-checker results.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take.
const checkTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the dependency
// is healthy; it must respect context cancellation.
type Checker struct {
	// Name labels the check in the JSON response (e.g., "database").
	Name string

	// Check probes the dependency.
	Check func(ctx context.Context) error
}

// response is the JSON body for health endpoints.
type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction time; Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers, sequentially
// and in order, on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// Readyz returns 200 only when every registered [Checker] passes. Each
// checker runs under a [checkTimeout] deadline derived from the request
// context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	status := http.StatusOK
	body := response{Status: "ok", Checks: checks}
	if !allOK {
		status = http.StatusServiceUnavailable
		body.Status = "fail"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
