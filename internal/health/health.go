// Package health serves the liveness and readiness probes: /healthz
// answers 200 whenever the process can serve HTTP at all, /readyz runs
// the registered dependency checks and answers 503 when any of them
// fails. Bodies are JSON with a "status" field and a per-check map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkDeadline bounds each readiness check.
const checkDeadline = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency
// can serve and must respect context cancellation.
type Checker struct {
	// Name keys the check in the /readyz body, e.g. "database" or "llm".
	Name string

	Check func(ctx context.Context) error
}

// report is the wire shape of both probe responses.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the two probes. The checker list is fixed at
// construction, so the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New builds a handler over the given checkers. /readyz evaluates them
// in the order given.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz answers the liveness probe. Reaching the handler is the check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, report{Status: "ok"})
}

// Readyz answers the readiness probe: every checker runs under its own
// deadline, and one failure turns the whole response into a 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	out := report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkDeadline)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			out.Checks[c.Name] = "fail: " + err.Error()
			out.Status = "fail"
			code = http.StatusServiceUnavailable
			continue
		}
		out.Checks[c.Name] = "ok"
	}
	respond(w, code, out)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
