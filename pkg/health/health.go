// Package health implements liveness and readiness probes in the style of
// Kubernetes probe configuration.
//
// Every registered check is polled on its own goroutine. A check flips to
// unhealthy only after failAfter consecutive failures and back to healthy
// after recoverAfter consecutive passes, so a single blip never changes the
// reported state.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	failAfter    = 3
	recoverAfter = 1
)

// CheckFunc probes one component. A nil return means healthy.
type CheckFunc func(ctx context.Context) error

// probe wraps a CheckFunc with threshold state.
type probe struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	// mu guards everything below. observe runs on a single goroutine but
	// the HTTP endpoints read ok and lastErr concurrently.
	mu      sync.Mutex
	ok      bool
	lastErr error
	fails   int
	passes  int
}

func newProbe(name string, timeout time.Duration, fn CheckFunc) *probe {
	// Optimistic start: a probe is healthy until it proves otherwise.
	return &probe{name: name, timeout: timeout, fn: fn, ok: true}
}

// observe runs the check once and applies the thresholds.
func (p *probe) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.fn(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if err != nil {
		p.passes = 0
		p.fails++
		if p.fails >= failAfter {
			p.ok = false
		}
		return
	}
	p.fails = 0
	p.passes++
	if p.passes >= recoverAfter {
		p.ok = true
	}
}

func (p *probe) healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ok
}

func (p *probe) lastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// poll runs observe at the given interval until ctx is cancelled. The first
// observation happens immediately.
func (p *probe) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.observe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.observe(ctx)
		}
	}
}

// Health tracks liveness and readiness probes for one service.
type Health struct {
	// accepting is the manual readiness gate, toggled by SetReady around
	// startup and graceful shutdown.
	accepting atomic.Bool

	mu     sync.RWMutex
	live   []*probe
	ready  []*probe
	cancel context.CancelFunc
}

// New returns a Health with no probes, in the not-ready state.
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a probe answering "is this process still
// functioning", e.g. goroutine count or GC pause duration.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.live = append(h.live, newProbe(name, timeout, fn))
}

// AddReadinessCheck registers a probe answering "can this process serve
// traffic", e.g. database connectivity.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = append(h.ready, newProbe(name, timeout, fn))
}

// Start launches one polling goroutine per registered probe. Register all
// probes before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	probes := make([]*probe, 0, len(h.live)+len(h.ready))
	probes = append(probes, h.live...)
	probes = append(probes, h.ready...)
	h.mu.Unlock()

	for _, p := range probes {
		go p.poll(ctx, interval)
	}
}

// Stop cancels the polling goroutines. Safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady toggles the manual readiness gate. Call with true once startup
// completes and with false at the start of graceful shutdown so load
// balancers stop routing new requests here.
func (h *Health) SetReady(ready bool) {
	h.accepting.Store(ready)
}

// IsReady reports whether the gate is open and every readiness probe passes.
func (h *Health) IsReady() bool {
	if !h.accepting.Load() {
		return false
	}

	h.mu.RLock()
	probes := h.ready
	h.mu.RUnlock()

	for _, p := range probes {
		if !p.healthy() {
			return false
		}
	}
	return true
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint serves /livez: 200 when all liveness probes pass, otherwise
// 503 with the failing probe names and their last errors.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	probes := make([]*probe, len(h.live))
	copy(probes, h.live)
	h.mu.RUnlock()

	writeStatus(w, failing(probes))
}

// ReadyEndpoint serves /readyz: 200 when the manual gate is open and all
// readiness probes pass, otherwise 503 with details.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	accepting := h.accepting.Load()

	h.mu.RLock()
	probes := make([]*probe, len(h.ready))
	copy(probes, h.ready)
	h.mu.RUnlock()

	failures := failing(probes)
	if !accepting {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures)
}

// failing maps probe name to last error message for each unhealthy probe,
// using the stored result rather than re-running the check.
func failing(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, p := range probes {
		if p.healthy() {
			continue
		}
		if err := p.lastError(); err != nil {
			failures[p.name] = err.Error()
		} else {
			failures[p.name] = "check is unhealthy"
		}
	}
	return failures
}

func writeStatus(w http.ResponseWriter, failures map[string]string) {
	w.Header().Set("Content-Type", "application/json")

	resp := statusResponse{Status: "ok"}
	code := http.StatusOK
	if len(failures) > 0 {
		resp.Status = "unhealthy"
		resp.Checks = failures
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
