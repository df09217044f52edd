// Package health tracks cached liveness of the service and its dependencies.
package health

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is implemented by component-level checkers (store, providers).
type HealthChecker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// HealthPinger can be implemented by components to expose a specialized
// health check. HealthPing must return nil when the component is healthy.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}

// ServiceHealthChecker folds its dependencies into one service verdict: the
// service is healthy only while every dependency is.
type ServiceHealthChecker struct {
	deps []HealthChecker
	log  zerolog.Logger

	healthy atomic.Bool
	mu      sync.Mutex
	down    []string
}

func NewServiceHealthChecker(log zerolog.Logger, deps ...HealthChecker) *ServiceHealthChecker {
	return &ServiceHealthChecker{deps: deps, log: log}
}

// IsHealthy returns the verdict of the last evaluation.
func (h *ServiceHealthChecker) IsHealthy() bool { return h.healthy.Load() }

// Components reports the cached state of every dependency by name.
func (h *ServiceHealthChecker) Components() map[string]bool {
	out := make(map[string]bool, len(h.deps))
	for _, c := range h.deps {
		out[c.Name()] = c.IsHealthy()
	}
	return out
}

// Down lists the dependencies that were unhealthy at the last evaluation.
func (h *ServiceHealthChecker) Down() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.down)
}

func (h *ServiceHealthChecker) evaluate() {
	var down []string
	for _, c := range h.deps {
		if !c.IsHealthy() {
			down = append(down, c.Name())
		}
	}

	h.mu.Lock()
	changed := !slices.Equal(down, h.down)
	h.down = down
	h.mu.Unlock()

	up := len(down) == 0
	if h.healthy.Swap(up) == up && !changed {
		return
	}
	if up {
		h.log.Info().Msg("service health: UP")
	} else {
		h.log.Error().Strs("down", down).Msg("service health: DOWN")
	}
}

// Start starts every dependency checker, then re-evaluates every interval
// until ctx is done.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	for _, c := range h.deps {
		go c.Start(ctx, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.evaluate()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.evaluate()
		}
	}
}
