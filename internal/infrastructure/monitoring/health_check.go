package monitoring

import (
	"context"
	"sync"
	"time"
)

const checkTimeout = 2 * time.Second

// CheckFunc probes one dependency. A non-nil error marks the process
// unhealthy and its message is reported verbatim.
type CheckFunc func(ctx context.Context) error

// HealthChecker aggregates named dependency probes for the health
// endpoint. Checks run sequentially on demand, each under its own
// timeout.
type HealthChecker struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]CheckFunc
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{checks: make(map[string]CheckFunc)}
}

func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.checks[name]; !ok {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(h.names)),
	}

	for _, name := range h.names {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := h.checks[name](checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[name] = err.Error()
			continue
		}
		status.Checks[name] = "healthy"
	}

	return status
}
