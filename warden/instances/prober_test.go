package instances

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/runewick/worldsmith/warden/engineapi"
)

func TestProberWaitReadyImmediate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	prober := Prober{Interval: 10 * time.Millisecond, BootTimeout: 2 * time.Second}
	client := engineapi.NewClient(server.URL, "test-key")

	if err := prober.WaitReady(context.Background(), "world-1", client); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
}

func TestProberWaitReadyAfterRetries(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Write([]byte(`{"status": "starting"}`))
			return
		}
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	prober := Prober{Interval: 10 * time.Millisecond, BootTimeout: 2 * time.Second}
	client := engineapi.NewClient(server.URL, "test-key")

	if err := prober.WaitReady(context.Background(), "world-1", client); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if calls.Load() < 3 {
		t.Errorf("Expected at least 3 probe attempts, got %d", calls.Load())
	}
}

func TestProberBootTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "starting"}`))
	}))
	defer server.Close()

	prober := Prober{Interval: 10 * time.Millisecond, BootTimeout: 80 * time.Millisecond}
	client := engineapi.NewClient(server.URL, "test-key")

	err := prober.WaitReady(context.Background(), "world-1", client)
	if err == nil {
		t.Fatal("Expected timeout error")
	}

	var timeoutErr *HealthTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected *HealthTimeoutError, got %T: %v", err, err)
	}
	if timeoutErr.WorldID != "world-1" {
		t.Errorf("Expected world id 'world-1', got '%s'", timeoutErr.WorldID)
	}
	if timeoutErr.Timeout != 80*time.Millisecond {
		t.Errorf("Expected timeout 80ms, got %s", timeoutErr.Timeout)
	}
}

func TestProberRetriesConnectionErrorsByDefault(t *testing.T) {
	// A server that is already gone yields transport errors on every probe.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	prober := Prober{Interval: 10 * time.Millisecond, BootTimeout: 80 * time.Millisecond}
	client := engineapi.NewClient(url, "test-key")

	err := prober.WaitReady(context.Background(), "world-1", client)

	var timeoutErr *HealthTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected connection errors to retry into *HealthTimeoutError, got %T: %v", err, err)
	}
}

func TestProberFailFast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	prober := Prober{Interval: 10 * time.Millisecond, BootTimeout: 5 * time.Second, FailFast: true}
	client := engineapi.NewClient(url, "test-key")

	start := time.Now()
	err := prober.WaitReady(context.Background(), "world-1", client)
	if err == nil {
		t.Fatal("Expected probe error")
	}

	var timeoutErr *HealthTimeoutError
	if errors.As(err, &timeoutErr) {
		t.Fatalf("FailFast should not wait for the boot timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("FailFast took %s, expected an immediate failure", elapsed)
	}
}

func TestProberCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "starting"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	prober := Prober{Interval: 10 * time.Millisecond, BootTimeout: 5 * time.Second}
	client := engineapi.NewClient(server.URL, "test-key")

	err := prober.WaitReady(ctx, "world-1", client)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}
