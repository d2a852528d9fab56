package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthStatus represents the health status of the service.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the status of a dependency.
type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckHandler handles liveness check requests.
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := HealthStatus{
			Status:    "healthy",
			Service:   "callbridge",
			Version:   "1.0.0",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	}
}

// HealthCheckFunc probes one external dependency and reports whether it is reachable.
// Accepted as a function to avoid import cycles between cmd/server and the packages
// that own each dependency's client.
type HealthCheckFunc func(ctx context.Context) (bool, error)

func checkDependency(ctx context.Context, name string, check HealthCheckFunc, deps map[string]DependencyStatus) bool {
	if check == nil {
		return true
	}

	start := time.Now()
	healthy, err := check(ctx)
	latency := time.Since(start).Milliseconds()

	status := "healthy"
	message := ""
	ok := true
	if err != nil || !healthy {
		status = "unhealthy"
		ok = false
		if err != nil {
			message = err.Error()
		}
	}

	deps[name] = DependencyStatus{
		Status:    status,
		Message:   message,
		LatencyMs: latency,
	}
	return ok
}

// ReadinessHandler handles readiness check requests for the realtime model
// endpoint, the tenant config store, and the reservation store.
func ReadinessHandler(
	realtimeCheck HealthCheckFunc,
	tenantStoreCheck HealthCheckFunc,
	reservationStoreCheck HealthCheckFunc,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dependencies := make(map[string]DependencyStatus)
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		allHealthy := true
		allHealthy = checkDependency(ctx, "realtime_model", realtimeCheck, dependencies) && allHealthy
		allHealthy = checkDependency(ctx, "tenant_config_store", tenantStoreCheck, dependencies) && allHealthy
		allHealthy = checkDependency(ctx, "reservation_store", reservationStoreCheck, dependencies) && allHealthy

		status := HealthStatus{
			Status:       "ready",
			Service:      "callbridge",
			Version:      "1.0.0",
			Timestamp:    time.Now().UTC().Format(time.RFC3339),
			Dependencies: dependencies,
		}

		if !allHealthy {
			status.Status = "not_ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}
