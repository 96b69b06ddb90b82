package instances

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"
)

// TestHelperEngine is not a real test. The controller and registry tests
// re-execute the test binary with this test selected to get a fake engine
// process: it serves the control API health endpoint on the port handed to it
// through the environment and exits on SIGTERM, like the real engine would.
// The mode environment variable selects misbehaviors to test against.
func TestHelperEngine(t *testing.T) {
	if os.Getenv("WORLDSMITH_TEST_ENGINE") != "1" {
		return
	}
	defer os.Exit(0)

	mode := os.Getenv("WORLDSMITH_TEST_ENGINE_MODE")
	if mode == "exit" {
		os.Exit(3)
	}

	fmt.Println("engine online")

	readyAt := time.Now()
	if delay := os.Getenv("WORLDSMITH_TEST_ENGINE_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			readyAt = readyAt.Add(d)
		}
	}

	apiKey := os.Getenv("ENGINE_API_KEY")
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if mode == "never" || time.Now().Before(readyAt) {
			fmt.Fprint(w, `{"status": "starting"}`)
			return
		}
		fmt.Fprint(w, `{"status": "ok", "world": "test-world"}`)
	})

	server := &http.Server{
		Addr:    "127.0.0.1:" + os.Getenv("ENGINE_API_PORT"),
		Handler: mux,
	}
	go server.ListenAndServe()

	if mode == "ignore-term" {
		signal.Ignore(syscall.SIGTERM)
		select {} // holds out for SIGKILL
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	<-sigCh
}

// testLauncher builds a launcher that spawns this test binary as the fake
// engine, running only TestHelperEngine.
func testLauncher(mode string, extraEnv ...string) *Launcher {
	env := []string{
		"WORLDSMITH_TEST_ENGINE=1",
		"WORLDSMITH_TEST_ENGINE_MODE=" + mode,
	}
	env = append(env, extraEnv...)
	return &Launcher{
		Bin:      os.Args[0],
		BaseArgs: []string{"-test.run=^TestHelperEngine$", "--"},
		Env:      env,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testInstanceConfig(t *testing.T, worldID string) InstanceConfig {
	t.Helper()
	return InstanceConfig{
		WorldID:     worldID,
		Port:        freePort(t),
		APIPort:     freePort(t),
		APIKey:      "test-api-key",
		DataPath:    t.TempDir(),
		LicenseKey:  "test-license",
		HostName:    "localhost",
		RoutePrefix: "/play/" + worldID,
	}
}

func testController(t *testing.T, mode string, launcherEnv ...string) *Controller {
	t.Helper()
	cfg := testInstanceConfig(t, "world-1")
	ctrl := NewController(cfg, ControllerOptions{
		Launcher:  testLauncher(mode, launcherEnv...),
		Prober:    Prober{Interval: 25 * time.Millisecond, BootTimeout: 10 * time.Second},
		StopGrace: 2 * time.Second,
		Logger:    quietLogger(),
	})
	t.Cleanup(func() {
		ctrl.Stop(context.Background())
	})
	return ctrl
}

func TestControllerStartBecomesHealthy(t *testing.T) {
	ctrl := testController(t, "ok")

	info, err := ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if info.PID <= 0 {
		t.Errorf("Expected a live pid, got %d", info.PID)
	}
	if info.Status != "running" {
		t.Errorf("Expected status 'running', got '%s'", info.Status)
	}
	if info.WorldID != "world-1" {
		t.Errorf("Expected world id 'world-1', got '%s'", info.WorldID)
	}
	if info.URL != ctrl.Config().PublicURL() {
		t.Errorf("Expected URL '%s', got '%s'", ctrl.Config().PublicURL(), info.URL)
	}
	if info.StartedAt.IsZero() {
		t.Error("Expected startedAt to be set")
	}
	if !ctrl.IsRunning() {
		t.Error("Expected IsRunning to be true")
	}

	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if ctrl.Status() != StatusStopped {
		t.Errorf("Expected status stopped after Stop, got %s", ctrl.Status())
	}
	if ctrl.IsRunning() {
		t.Error("Expected IsRunning to be false after Stop")
	}
}

func TestControllerStartIsIdempotentWhileRunning(t *testing.T) {
	ctrl := testController(t, "ok")

	first, err := ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	second, err := ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if second.PID != first.PID {
		t.Errorf("Second Start spawned a new process: pid %d != %d", second.PID, first.PID)
	}
}

func TestControllerRejectsStartWhileStarting(t *testing.T) {
	ctrl := testController(t, "ok", "WORLDSMITH_TEST_ENGINE_DELAY=1s")

	firstDone := make(chan error, 1)
	go func() {
		_, err := ctrl.Start(context.Background())
		firstDone <- err
	}()

	// Wait for the first start to reach the boot wait.
	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Status() != StatusStarting {
		if time.Now().After(deadline) {
			t.Fatal("Controller never entered starting status")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := ctrl.Start(context.Background()); !errors.Is(err, ErrStartInProgress) {
		t.Errorf("Expected ErrStartInProgress, got %v", err)
	}

	if err := <-firstDone; err != nil {
		t.Fatalf("First Start failed: %v", err)
	}
}

func TestControllerStartFailsWhenEngineExits(t *testing.T) {
	ctrl := testController(t, "exit")

	_, err := ctrl.Start(context.Background())
	if err == nil {
		t.Fatal("Expected start to fail")
	}

	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Expected *SpawnError, got %T: %v", err, err)
	}
	if spawnErr.WorldID != "world-1" {
		t.Errorf("Expected world id 'world-1', got '%s'", spawnErr.WorldID)
	}
	if !strings.Contains(err.Error(), "exited during boot") {
		t.Errorf("Expected exit-during-boot error, got: %v", err)
	}
	if ctrl.Status() != StatusError {
		t.Errorf("Expected status error, got %s", ctrl.Status())
	}
}

func TestControllerHealthTimeoutTearsDownProcess(t *testing.T) {
	cfg := testInstanceConfig(t, "world-1")
	ctrl := NewController(cfg, ControllerOptions{
		Launcher:  testLauncher("never"),
		Prober:    Prober{Interval: 25 * time.Millisecond, BootTimeout: 300 * time.Millisecond},
		StopGrace: 2 * time.Second,
		Logger:    quietLogger(),
	})
	t.Cleanup(func() {
		ctrl.Stop(context.Background())
	})

	_, err := ctrl.Start(context.Background())
	if err == nil {
		t.Fatal("Expected start to fail")
	}

	var timeoutErr *HealthTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Expected *HealthTimeoutError, got %T: %v", err, err)
	}
	if ctrl.Status() != StatusError {
		t.Errorf("Expected status error, got %s", ctrl.Status())
	}

	// The never-healthy process must not be left behind.
	pid := ctrl.Info().PID
	if pid > 0 {
		if killErr := syscall.Kill(pid, 0); !errors.Is(killErr, syscall.ESRCH) {
			t.Errorf("Expected process %d to be gone, kill(0) returned %v", pid, killErr)
		}
	}
}

func TestControllerStopEscalatesToKill(t *testing.T) {
	cfg := testInstanceConfig(t, "world-1")
	grace := 300 * time.Millisecond
	ctrl := NewController(cfg, ControllerOptions{
		Launcher:  testLauncher("ignore-term"),
		Prober:    Prober{Interval: 25 * time.Millisecond, BootTimeout: 10 * time.Second},
		StopGrace: grace,
		Logger:    quietLogger(),
	})
	t.Cleanup(func() {
		ctrl.Stop(context.Background())
	})

	info, err := ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	started := time.Now()
	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	elapsed := time.Since(started)

	if elapsed < grace {
		t.Errorf("Stop returned after %s, before the %s grace period elapsed", elapsed, grace)
	}
	if ctrl.Status() != StatusStopped {
		t.Errorf("Expected status stopped, got %s", ctrl.Status())
	}
	if killErr := syscall.Kill(info.PID, 0); !errors.Is(killErr, syscall.ESRCH) {
		t.Errorf("Expected process %d to be gone, kill(0) returned %v", info.PID, killErr)
	}
}

func TestControllerStopIsNoopWhenNotRunning(t *testing.T) {
	ctrl := testController(t, "ok")

	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on fresh controller failed: %v", err)
	}

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := ctrl.Stop(context.Background()); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestControllerRestartKeepsIdentity(t *testing.T) {
	ctrl := testController(t, "ok")

	first, err := ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	id := ctrl.ID()

	second, err := ctrl.Restart(context.Background())
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}

	if second.PID == first.PID {
		t.Errorf("Expected a new process after restart, still pid %d", first.PID)
	}
	if ctrl.ID() != id {
		t.Errorf("Instance id changed across restart: %s != %s", ctrl.ID(), id)
	}
	if !ctrl.IsRunning() {
		t.Error("Expected instance to be running after restart")
	}
	if second.Port != first.Port || second.APIPort != first.APIPort {
		t.Error("Expected ports to be unchanged across restart")
	}
}

func TestControllerCapturesEngineOutput(t *testing.T) {
	ctrl := testController(t, "ok")

	if _, err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		found := false
		for _, entry := range ctrl.Logs(0) {
			if entry.Message == "engine online" && entry.Source == "stdout" {
				found = true
				break
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Engine output never reached the log buffer")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestControllerDetectsUnexpectedExit(t *testing.T) {
	ctrl := testController(t, "ok")

	info, err := ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The engine dying out from under the controller is a failure, not a stop.
	if err := syscall.Kill(info.PID, syscall.SIGKILL); err != nil {
		t.Fatalf("Failed to kill engine process: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ctrl.Status() != StatusError {
		if time.Now().After(deadline) {
			t.Fatalf("Controller never noticed the exit; status %s", ctrl.Status())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if ctrl.IsRunning() {
		t.Error("Expected IsRunning to be false after unexpected exit")
	}
}
