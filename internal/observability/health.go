package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	ActiveCalls  *int                        `json:"active_calls,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc reports whether a dependency is usable.
type HealthCheckFunc func(ctx context.Context) (bool, error)

// DependencyCheck names a HealthCheckFunc for the readiness report.
type DependencyCheck struct {
	Name  string
	Check HealthCheckFunc
}

const (
	serviceName    = "salon-voice-gateway"
	serviceVersion = "1.0.0"
)

// HealthCheckHandler handles liveness requests. activeCalls may be nil.
func HealthCheckHandler(activeCalls func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Service:   serviceName,
			Version:   serviceVersion,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if activeCalls != nil {
			n := activeCalls()
			status.ActiveCalls = &n
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

// ReadinessHandler runs every dependency check concurrently and reports 503
// if any of them is unhealthy.
func ReadinessHandler(checks ...DependencyCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		var (
			mu           sync.Mutex
			wg           sync.WaitGroup
			dependencies = make(map[string]DependencyStatus, len(checks))
			allHealthy   = true
		)
		for _, dc := range checks {
			if dc.Check == nil {
				continue
			}
			wg.Add(1)
			go func(dc DependencyCheck) {
				defer wg.Done()
				start := time.Now()
				healthy, err := dc.Check(ctx)
				ds := DependencyStatus{
					Status:    "healthy",
					LatencyMs: time.Since(start).Milliseconds(),
				}
				if err != nil || !healthy {
					ds.Status = "unhealthy"
					if err != nil {
						ds.Message = err.Error()
					}
				}
				mu.Lock()
				dependencies[dc.Name] = ds
				if ds.Status != "healthy" {
					allHealthy = false
				}
				mu.Unlock()
			}(dc)
		}
		wg.Wait()

		status := HealthStatus{
			Status:       "ready",
			Service:      serviceName,
			Version:      serviceVersion,
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		w.Header().Set("Content-Type", "application/json")
		if !allHealthy {
			status.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(status)
	}
}
