package engineapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthReady(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("Expected path /health, got %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","world":"ravenholm","engine":{"version":"11.315"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret-key")
	status, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}

	if !status.Ready() {
		t.Error("Expected Ready() to be true")
	}
	if status.World != "ravenholm" {
		t.Errorf("Expected world 'ravenholm', got %q", status.World)
	}
	if status.Engine["version"] != "11.315" {
		t.Errorf("Expected engine version '11.315', got %q", status.Engine["version"])
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
}

func TestHealthNotReadyYet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"starting"}`))
	}))
	defer server.Close()

	status, err := NewClient(server.URL, "").Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if status.Ready() {
		t.Error("Expected Ready() to be false while starting")
	}
}

func TestHealthNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not yet", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "").Health(context.Background()); err == nil {
		t.Error("Expected error for non-200 response")
	}
}

func TestHealthConnectionRefused(t *testing.T) {
	// Grab a port that is listening on nothing.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	if _, err := NewClient(url, "").Health(context.Background()); err == nil {
		t.Error("Expected error when nothing is listening")
	}
}

func TestHealthBadBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	if _, err := NewClient(server.URL, "").Health(context.Background()); err == nil {
		t.Error("Expected error for undecodable body")
	}
}

func TestWithHealthPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Errorf("Expected path /api/status, got %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithHealthPath("/api/status"))
	if _, err := client.Health(context.Background()); err != nil {
		t.Fatalf("Health failed: %v", err)
	}
}

func TestNilHealthStatusNotReady(t *testing.T) {
	var status *HealthStatus
	if status.Ready() {
		t.Error("Expected nil status to not be ready")
	}
}
