// Package handlers holds the HTTP handlers for gcpal serve.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	errwrap "github.com/3leaps/gcpal/internal/errors"
)

// Check statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
	StatusDegraded  = "degraded"
)

// checkTimeout bounds each health check.
const checkTimeout = 5 * time.Second

// HealthChecker reports whether one dependency is usable.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a successful health probe.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered checkers for the health endpoints.
type HealthManager struct {
	version string
	started time.Time

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthManager creates a manager reporting version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		started:  time.Now(),
		checkers: map[string]HealthChecker{},
	}
}

// RegisterChecker adds or replaces a named checker.
func (m *HealthManager) RegisterChecker(name string, c HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for k, v := range m.checkers {
		checkers[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string, c HealthChecker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			status := StatusHealthy
			if err := c.CheckHealth(cctx); err != nil {
				status = StatusUnhealthy
				if errors.Is(err, context.DeadlineExceeded) {
					status = StatusTimeout
				}
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, checkers[name])
	}
	wg.Wait()
	return results
}

// determineOverallStatus folds check results: any failure is unhealthy,
// any timeout without failures is degraded.
func (m *HealthManager) determineOverallStatus(checks map[string]string) string {
	overall := StatusHealthy
	for _, s := range checks {
		switch s {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusTimeout:
			overall = StatusDegraded
		}
	}
	return overall
}

func (m *HealthManager) respond(w http.ResponseWriter, r *http.Request, checks map[string]string) {
	status := m.determineOverallStatus(checks)
	if status == StatusUnhealthy {
		details := map[string]any{"checks": checks}
		errwrap.WriteHTTPError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "one or more health checks failed", details)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   m.version,
		Uptime:    time.Since(m.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// HealthHandler runs every check.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, m.runChecks(r.Context()))
}

// LivenessHandler reports the process is up without running checks.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, nil)
}

// ReadinessHandler runs every check.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, m.runChecks(r.Context()))
}

// StartupHandler reports startup has completed.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	m.respond(w, r, nil)
}

var (
	globalMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager sets the process-wide manager.
func InitHealthManager(version string) *HealthManager {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHealthManager = NewHealthManager(version)
	return globalHealthManager
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHealthManager
}

func withGlobal(fn func(*HealthManager, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := GetHealthManager()
		if m == nil {
			errwrap.WriteHTTPError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "health manager not initialized", nil)
			return
		}
		fn(m, w, r)
	}
}

var (
	HealthHandler    = withGlobal((*HealthManager).HealthHandler)
	LivenessHandler  = withGlobal((*HealthManager).LivenessHandler)
	ReadinessHandler = withGlobal((*HealthManager).ReadinessHandler)
	StartupHandler   = withGlobal((*HealthManager).StartupHandler)
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
