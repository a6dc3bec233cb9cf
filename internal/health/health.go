// Package health provides the liveness and readiness endpoints of the
// control API.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every registered [Checker] passes.
//
// Both respond with {"status": "ok"|"fail", "checks": {name: result}}.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name appears as a key in the JSON response (e.g. "live_provider").
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz over a fixed set of checkers.
type Handler struct {
	checkers []Checker
}

// New returns a Handler that runs checkers on every /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Check runs every checker concurrently, each bounded by its own timeout,
// and reports the per-name outcome with the failures joined.
func (h *Handler) Check(ctx context.Context) (map[string]string, error) {
	failures := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if err := c.Check(cctx); err != nil {
				failures[i] = fmt.Errorf("%s: %w", c.Name, err)
			}
			return nil
		})
	}
	g.Wait()

	checks := make(map[string]string, len(h.checkers))
	for i, c := range h.checkers {
		if failures[i] != nil {
			checks[c.Name] = "fail: " + errors.Unwrap(failures[i]).Error()
			continue
		}
		checks[c.Name] = "ok"
	}
	return checks, errors.Join(failures...)
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, err := h.Check(r.Context())
	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if err != nil {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
