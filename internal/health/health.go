package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status      Status                 `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// HealthCheck represents a health check function
type HealthCheck func(ctx context.Context) ComponentHealth

// Checker runs the registered component checks
type Checker struct {
	mu         sync.RWMutex
	components map[string]HealthCheck
	timeout    time.Duration
	gauge      *prometheus.GaugeVec
}

// NewChecker creates a new health checker
func NewChecker(timeout time.Duration) *Checker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Checker{
		components: make(map[string]HealthCheck),
		timeout:    timeout,
	}
}

// ReportTo mirrors every check result into gauge, labelled by component
// (1 healthy or degraded, 0 unhealthy)
func (c *Checker) ReportTo(gauge *prometheus.GaugeVec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauge = gauge
}

// Register registers a health check for a component
func (c *Checker) Register(name string, check HealthCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = check
}

// Check runs all health checks concurrently
func (c *Checker) Check(ctx context.Context) map[string]ComponentHealth {
	c.mu.RLock()
	components := make(map[string]HealthCheck, len(c.components))
	for k, v := range c.components {
		components[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]ComponentHealth, len(components))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range components {
		wg.Add(1)
		go func(n string, chk HealthCheck) {
			defer wg.Done()

			result := c.run(ctx, n, chk)

			resultsMu.Lock()
			results[n] = result
			resultsMu.Unlock()
		}(name, check)
	}

	wg.Wait()
	return results
}

// CheckComponent runs a single component's health check
func (c *Checker) CheckComponent(ctx context.Context, name string) (ComponentHealth, bool) {
	c.mu.RLock()
	check, exists := c.components[name]
	c.mu.RUnlock()

	if !exists {
		return ComponentHealth{}, false
	}
	return c.run(ctx, name, check), true
}

func (c *Checker) run(ctx context.Context, name string, check HealthCheck) ComponentHealth {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := check(checkCtx)
	result.LastChecked = time.Now()

	c.mu.RLock()
	gauge := c.gauge
	c.mu.RUnlock()

	if gauge != nil {
		value := 1.0
		if result.Status == StatusUnhealthy {
			value = 0
		}
		gauge.WithLabelValues(name).Set(value)
	}
	return result
}

// OverallStatus runs every check and folds the results into one status
func (c *Checker) OverallStatus(ctx context.Context) Status {
	return aggregate(c.Check(ctx))
}

// aggregate is unhealthy if any component is, else degraded if any is
func aggregate(results map[string]ComponentHealth) Status {
	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

func statusCode(s Status) int {
	if s == StatusUnhealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// HealthResponse represents the HTTP response for health checks
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HTTPHandler returns an HTTP handler reporting every component
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.Check(r.Context())
		overall := aggregate(results)

		writeJSON(w, statusCode(overall), HealthResponse{
			Status:     overall,
			Components: results,
			Timestamp:  time.Now(),
		})
	}
}

// LivenessHandler returns a simple liveness probe handler
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessHandler returns a readiness probe handler
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.OverallStatus(r.Context())

		writeJSON(w, statusCode(status), map[string]interface{}{
			"status":    status,
			"timestamp": time.Now(),
		})
	}
}

// ComponentHandler runs the check named by the {component} path value
func (c *Checker) ComponentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("component")
		result, ok := c.CheckComponent(r.Context(), name)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": fmt.Sprintf("unknown component: %s", name),
			})
			return
		}
		writeJSON(w, statusCode(result.Status), result)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// SessionCapacity reports how full the session table is. It degrades at
// 90% of max and fails when no new session can be created. A max of zero
// means unlimited.
func SessionCapacity(count func() int, max int) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		n := count()
		meta := map[string]interface{}{"sessions": n}
		if max <= 0 {
			return ComponentHealth{Status: StatusHealthy, Message: "unlimited sessions", Metadata: meta}
		}

		meta["max_sessions"] = max
		switch {
		case n >= max:
			return ComponentHealth{Status: StatusUnhealthy, Message: "session table is full", Metadata: meta}
		case n*10 >= max*9:
			return ComponentHealth{Status: StatusDegraded, Message: "session table is nearly full", Metadata: meta}
		default:
			return ComponentHealth{Status: StatusHealthy, Message: fmt.Sprintf("%d of %d sessions in use", n, max), Metadata: meta}
		}
	}
}

// Probe reports unhealthy when probe returns an error. It is used to run a
// known-good input through an engine.
func Probe(probe func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := probe(ctx); err != nil {
			return ComponentHealth{Status: StatusUnhealthy, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy, Message: "probe passed"}
	}
}
