// Package health serves liveness and readiness probes for the agent.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is anything that can report whether it is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f(ctx)
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type namedCheck struct {
	name   string
	pinger Pinger
}

// HealthChecker runs the registered readiness checks on every probe
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp int64             `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// NewHealthChecker creates a checker whose probes give up after timeout
func NewHealthChecker(timeout time.Duration, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// Register adds a readiness check. Checks run in registration order.
func (h *HealthChecker) Register(name string, p Pinger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, pinger: p})
}

// Check runs every readiness check and reports per-check results
func (h *HealthChecker) Check(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	checks := append([]namedCheck(nil), h.checks...)
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make(map[string]string, len(checks))
	healthy := true
	for _, c := range checks {
		if err := c.pinger.Ping(ctx); err != nil {
			h.logger.Error("Health check failed", zap.String("check", c.name), zap.Error(err))
			results[c.name] = "unhealthy: " + err.Error()
			healthy = false
			continue
		}
		results[c.name] = "healthy"
	}
	return results, healthy
}

// LivenessHandler handles liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, HealthStatus{
		Status:    "alive",
		Timestamp: h.now().Unix(),
	})
}

// ReadinessHandler handles readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checks, healthy := h.Check(r.Context())

	status := HealthStatus{
		Status:    "ready",
		Timestamp: h.now().Unix(),
		Checks:    checks,
	}
	code := http.StatusOK
	if !healthy {
		status.Status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	h.write(w, code, status)
}

func (h *HealthChecker) write(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Debug("Failed to write health response", zap.Error(err))
	}
}
