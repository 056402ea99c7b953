// Package health aggregates per-dependency liveness checks for the /health
// endpoint.
package health

import (
	"context"
	"sync"

	"trading_bot/internal/core"
)

// Check probes one dependency
type Check func(ctx context.Context) error

// Manager aggregates health checks from the bot's dependencies
type Manager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]Check
}

// NewManager creates an empty manager
func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		logger: logger.WithField("component", "health_manager"),
		checks: make(map[string]Check),
	}
}

// Register adds or replaces the check for a dependency
func (m *Manager) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Status probes every dependency and reports "connected" or the error text
func (m *Manager) Status(ctx context.Context) (map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	healthy := true
	status := make(map[string]string, len(m.checks))
	for name, check := range m.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			m.logger.Warn("Dependency unhealthy", "dependency", name, "error", err)
		} else {
			status[name] = "connected"
		}
	}
	return status, healthy
}

// Healthy reports whether every registered dependency passes its check
func (m *Manager) Healthy(ctx context.Context) bool {
	_, ok := m.Status(ctx)
	return ok
}
