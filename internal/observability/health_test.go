package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	handler := HealthCheckHandler(func() int { return 3 })

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", status.Status)
	}
	if status.ActiveCalls == nil || *status.ActiveCalls != 3 {
		t.Errorf("Expected active_calls 3, got %v", status.ActiveCalls)
	}
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	handler := ReadinessHandler(
		DependencyCheck{Name: "stt", Check: ok},
		DependencyCheck{Name: "tts", Check: ok},
	)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(status.Dependencies) != 2 {
		t.Errorf("Expected 2 dependencies, got %d", len(status.Dependencies))
	}
}

func TestReadinessHandler_Unhealthy(t *testing.T) {
	handler := ReadinessHandler(
		DependencyCheck{Name: "stt", Check: func(ctx context.Context) (bool, error) { return true, nil }},
		DependencyCheck{Name: "intent", Check: func(ctx context.Context) (bool, error) {
			return false, errors.New("connection refused")
		}},
	)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Status != "not_ready" {
		t.Errorf("Expected status 'not_ready', got '%s'", status.Status)
	}
	dep := status.Dependencies["intent"]
	if dep.Status != "unhealthy" || dep.Message != "connection refused" {
		t.Errorf("Unexpected intent dependency status: %+v", dep)
	}
}
