// Package health serves the liveness and readiness checks of the hosted
// agent.
//
// Liveness is answered on /healthz and /liveness and always returns 200 while
// the process can serve HTTP. Readiness is answered on /readyz and /readiness
// and returns 200 only when every registered [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency is
// usable.
type Checker struct {
	// Name is the key of this check in the JSON response, e.g. "tools".
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. The checker list is fixed at
// construction time; a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates checkers on each readiness request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness endpoint. It always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness endpoint. Checkers run concurrently, each with a
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	if status != http.StatusOK {
		slog.Warn("readiness check failed", "checks", res.Checks)
	}
	writeJSON(w, status, res)
}

// Register adds the liveness and readiness routes to mux, under both the
// Kubernetes-style and the hosted-agent paths.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /liveness", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /readiness", h.Readyz)
}

// ─── Checkers ────────────────────────────────────────────────────────────────

// ErrNoTools is reported by [ToolsChecker] when the registry is empty.
var ErrNoTools = errors.New("no tools registered")

// ToolsChecker reports ready while count returns at least one tool.
func ToolsChecker(count func() int) Checker {
	return Checker{
		Name: "tools",
		Check: func(context.Context) error {
			if count() == 0 {
				return ErrNoTools
			}
			return nil
		},
	}
}

// Readier is implemented by dependencies that can report their own
// readiness, such as a provider fallback group.
type Readier interface {
	Ready(ctx context.Context) error
}

// ReadyChecker wraps r as a named [Checker]. A nil r always fails, so an
// unconfigured dependency shows up in the report instead of being skipped.
func ReadyChecker(name string, r Readier) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if r == nil {
				return errors.New("not configured")
			}
			return r.Ready(ctx)
		},
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("health: encode response", "err", err)
	}
}
