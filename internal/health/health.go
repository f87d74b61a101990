// Package health serves the liveness and readiness probes.
//
// GET /healthz answers 200 whenever the process can serve HTTP and reports
// uptime and the number of live recording sessions. GET /readyz runs every
// [Checker] concurrently and answers 503 when any of them fails.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Status is the outcome of a probe or of one check.
type Status string

const (
	StatusOK   Status = "ok"
	StatusFail Status = "fail"
)

// Checker probes one dependency. Check returns a short detail describing the
// dependency's state (e.g. "loaded", "lazy"), or an error when it is not
// usable. Check must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) (string, error)
}

// CheckResult is one entry of [Report.Checks].
type CheckResult struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Report is the JSON body of both probes.
type Report struct {
	Status   Status                 `json:"status"`
	Uptime   string                 `json:"uptime,omitempty"`
	Sessions *int                   `json:"sessions,omitempty"`
	Checks   map[string]CheckResult `json:"checks,omitempty"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckers adds readiness checks.
func WithCheckers(c ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, c...) }
}

// WithSessions reports the live session count on /healthz.
func WithSessions(count func() int) Option {
	return func(h *Handler) { h.sessions = count }
}

// WithCheckTimeout overrides [DefaultCheckTimeout].
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// Handler serves the probes. The checker list is fixed by [New].
type Handler struct {
	checkers []Checker
	sessions func() int
	timeout  time.Duration
	started  time.Time
}

// New returns a Handler; uptime is measured from this call.
func New(opts ...Option) *Handler {
	h := &Handler{timeout: DefaultCheckTimeout, started: time.Now()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	rep := Report{Status: StatusOK, Uptime: time.Since(h.started).Round(time.Second).String()}
	if h.sessions != nil {
		n := h.sessions()
		rep.Sessions = &n
	}
	writeReport(w, http.StatusOK, rep)
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Check(r.Context())
	code := http.StatusOK
	if rep.Status != StatusOK {
		code = http.StatusServiceUnavailable
	}
	writeReport(w, code, rep)
}

// Check runs every checker and aggregates the results.
func (h *Handler) Check(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			detail, err := c.Check(cctx)
			if err == nil {
				err = cctx.Err()
			}
			if err != nil {
				results[i] = CheckResult{Status: StatusFail, Detail: detail, Error: err.Error()}
				return
			}
			results[i] = CheckResult{Status: StatusOK, Detail: detail}
		})
	}
	wg.Wait()

	rep := Report{Status: StatusOK, Checks: make(map[string]CheckResult, len(h.checkers))}
	for i, c := range h.checkers {
		rep.Checks[c.Name] = results[i]
		if results[i].Status != StatusOK {
			rep.Status = StatusFail
		}
	}
	return rep
}

func writeReport(w http.ResponseWriter, code int, rep Report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(rep)
}
