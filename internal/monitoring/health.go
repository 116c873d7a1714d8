package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/seismic-bv/seismic/internal/logging"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthCheck represents a single health check result
type HealthCheck struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Duration    time.Duration          `json:"duration"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Critical    bool                   `json:"critical"`
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	Check(ctx context.Context) HealthCheck
	Name() string
	IsCritical() bool
}

// HealthCheckFunc adapts a function to HealthChecker
type HealthCheckFunc struct {
	name     string
	checkFn  func(ctx context.Context) HealthCheck
	critical bool
}

// Check executes the health check function
func (h *HealthCheckFunc) Check(ctx context.Context) HealthCheck {
	return h.checkFn(ctx)
}

// Name returns the health check name
func (h *HealthCheckFunc) Name() string {
	return h.name
}

// IsCritical returns whether this check is critical
func (h *HealthCheckFunc) IsCritical() bool {
	return h.critical
}

// NewHealthCheckFunc creates a new health check function
func NewHealthCheckFunc(
	name string,
	critical bool,
	checkFn func(ctx context.Context) HealthCheck,
) *HealthCheckFunc {
	return &HealthCheckFunc{
		name:     name,
		checkFn:  checkFn,
		critical: critical,
	}
}

// HealthMonitor runs registered checks on demand. Checks here are cheap
// in-process probes, so every /health request evaluates them fresh.
type HealthMonitor struct {
	checks  map[string]HealthChecker
	mutex   sync.RWMutex
	logger  logging.Logger
	timeout time.Duration
	version string
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status     HealthStatus           `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime"`
	Checks     map[string]HealthCheck `json:"checks"`
	Summary    HealthSummary          `json:"summary"`
	SystemInfo SystemInfo             `json:"system_info"`
}

// HealthSummary counts check results by status
type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Degraded  int `json:"degraded"`
	Critical  int `json:"critical"`
}

// SystemInfo provides system information
type SystemInfo struct {
	Hostname  string    `json:"hostname"`
	Platform  string    `json:"platform"`
	GoVersion string    `json:"go_version"`
	StartTime time.Time `json:"start_time"`
	PID       int       `json:"pid"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(logger logging.Logger, version string) *HealthMonitor {
	return &HealthMonitor{
		checks:  make(map[string]HealthChecker),
		logger:  logger.WithComponent("health_monitor"),
		timeout: 2 * time.Second,
		version: version,
	}
}

// RegisterCheck registers a health check
func (hm *HealthMonitor) RegisterCheck(checker HealthChecker) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	hm.checks[checker.Name()] = checker
	hm.logger.Debug(context.Background(), "Registered health check",
		"name", checker.Name(),
		"critical", checker.IsCritical())
}

// GetHealth runs every check concurrently and aggregates the results.
func (hm *HealthMonitor) GetHealth(ctx context.Context) HealthResponse {
	hm.mutex.RLock()
	checkers := make([]HealthChecker, 0, len(hm.checks))
	for _, c := range hm.checks {
		checkers = append(checkers, c)
	}
	hm.mutex.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	results := make(chan HealthCheck, len(checkers))
	var wg sync.WaitGroup
	for _, checker := range checkers {
		wg.Add(1)
		go func(checker HealthChecker) {
			defer wg.Done()
			start := time.Now()
			result := checker.Check(ctx)
			result.Name = checker.Name()
			result.Critical = checker.IsCritical()
			result.Duration = time.Since(start)
			result.LastChecked = time.Now()
			results <- result
		}(checker)
	}
	wg.Wait()
	close(results)

	checks := make(map[string]HealthCheck, len(checkers))
	for result := range results {
		checks[result.Name] = result
		if result.Status != HealthStatusHealthy {
			hm.logger.Warn(ctx, nil, "Health check failed",
				"name", result.Name,
				"status", string(result.Status),
				"message", result.Message)
		}
	}

	return HealthResponse{
		Status:     overallStatus(checks),
		Timestamp:  time.Now(),
		Version:    hm.version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Checks:     checks,
		Summary:    summarize(checks),
		SystemInfo: getSystemInfo(),
	}
}

func summarize(checks map[string]HealthCheck) HealthSummary {
	summary := HealthSummary{Total: len(checks)}
	for _, check := range checks {
		switch check.Status {
		case HealthStatusHealthy:
			summary.Healthy++
		case HealthStatusUnhealthy:
			summary.Unhealthy++
		case HealthStatusDegraded:
			summary.Degraded++
		}
		if check.Critical {
			summary.Critical++
		}
	}
	return summary
}

// overallStatus: a failing critical check is unhealthy, any other failure
// degrades.
func overallStatus(checks map[string]HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, check := range checks {
		switch {
		case check.Status == HealthStatusHealthy:
		case check.Critical && check.Status == HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		default:
			status = HealthStatusDegraded
		}
	}
	return status
}

// HTTPHandler returns an HTTP handler for health checks
func (hm *HealthMonitor) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hm.GetHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		if health.Status == HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(health); err != nil {
			hm.logger.Error(r.Context(), err, "Failed to encode health response")
		}
	}
}

// RelaysHealthChecker reports how many relays are configured. It does not
// dial them: relays are third-party and their reachability is surfaced per
// dispatch instead.
func RelaysHealthChecker(relays func() []string) HealthChecker {
	return NewHealthCheckFunc("relays", true, func(ctx context.Context) HealthCheck {
		n := len(relays())
		if n == 0 {
			return HealthCheck{Status: HealthStatusUnhealthy, Message: "No relays configured"}
		}
		return HealthCheck{
			Status:   HealthStatusHealthy,
			Message:  fmt.Sprintf("%d relays configured", n),
			Metadata: map[string]interface{}{"count": n},
		}
	})
}

// GoroutineHealthChecker checks for goroutine leaks
func GoroutineHealthChecker() HealthChecker {
	return NewHealthCheckFunc("goroutines", false, func(ctx context.Context) HealthCheck {
		goroutines := runtime.NumGoroutine()

		status := HealthStatusHealthy
		message := "Goroutine count is normal"
		if goroutines > 10000 {
			status = HealthStatusUnhealthy
			message = fmt.Sprintf("Very high goroutine count: %d", goroutines)
		} else if goroutines > 1000 {
			status = HealthStatusDegraded
			message = fmt.Sprintf("High goroutine count: %d", goroutines)
		}

		return HealthCheck{
			Status:   status,
			Message:  message,
			Metadata: map[string]interface{}{"count": goroutines},
		}
	})
}

var startTime = time.Now()

func getSystemInfo() SystemInfo {
	hostname, _ := os.Hostname()

	return SystemInfo{
		Hostname:  hostname,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion: runtime.Version(),
		StartTime: startTime,
		PID:       os.Getpid(),
	}
}
