package instances

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func testDefaults() InstanceDefaults {
	return InstanceDefaults{
		DataRoot:   "/srv/worldsmith",
		HostName:   "play.example.com",
		LicenseKey: "license-123",
	}
}

func testAllocators(t *testing.T) (*PortAllocator, *PortAllocator) {
	t.Helper()
	gamePorts, err := NewPortAllocator(42160, 42169)
	if err != nil {
		t.Fatalf("NewPortAllocator failed: %v", err)
	}
	apiPorts, err := NewPortAllocator(42170, 42179)
	if err != nil {
		t.Fatalf("NewPortAllocator failed: %v", err)
	}
	return gamePorts, apiPorts
}

func TestWithDefaultsRequiresWorldID(t *testing.T) {
	gamePorts, apiPorts := testAllocators(t)

	_, err := InstanceConfig{}.withDefaults(testDefaults(), gamePorts, apiPorts)
	if err == nil {
		t.Fatal("Expected error for missing world id")
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigurationError, got %T", err)
	}
	if cfgErr.Field != "worldId" {
		t.Errorf("Expected field 'worldId', got '%s'", cfgErr.Field)
	}
}

func TestWithDefaultsRequiresLicense(t *testing.T) {
	gamePorts, apiPorts := testAllocators(t)
	defaults := testDefaults()
	defaults.LicenseKey = ""

	_, err := InstanceConfig{WorldID: "world-1"}.withDefaults(defaults, gamePorts, apiPorts)
	if err == nil {
		t.Fatal("Expected error for missing license")
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigurationError, got %T", err)
	}
	if cfgErr.Field != "licenseKey" {
		t.Errorf("Expected field 'licenseKey', got '%s'", cfgErr.Field)
	}
}

func TestWithDefaultsRequiresDataRoot(t *testing.T) {
	gamePorts, apiPorts := testAllocators(t)
	defaults := testDefaults()
	defaults.DataRoot = ""

	_, err := InstanceConfig{WorldID: "world-1"}.withDefaults(defaults, gamePorts, apiPorts)
	if err == nil {
		t.Fatal("Expected error for missing data root")
	}

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected *ConfigurationError, got %T", err)
	}
	if cfgErr.Field != "dataPath" {
		t.Errorf("Expected field 'dataPath', got '%s'", cfgErr.Field)
	}
}

func TestWithDefaultsFillsFallbacks(t *testing.T) {
	gamePorts, apiPorts := testAllocators(t)
	defaults := testDefaults()

	resolved, err := InstanceConfig{WorldID: "world-1"}.withDefaults(defaults, gamePorts, apiPorts)
	if err != nil {
		t.Fatalf("withDefaults failed: %v", err)
	}

	if resolved.LicenseKey != "license-123" {
		t.Errorf("Expected license from defaults, got '%s'", resolved.LicenseKey)
	}
	if resolved.HostName != "play.example.com" {
		t.Errorf("Expected hostname from defaults, got '%s'", resolved.HostName)
	}
	expectedData := filepath.Join("/srv/worldsmith", "worlds", "world-1")
	if resolved.DataPath != expectedData {
		t.Errorf("Expected data path '%s', got '%s'", expectedData, resolved.DataPath)
	}
	if resolved.APIKey == "" {
		t.Error("Expected a generated API key")
	}
	if resolved.RoutePrefix != "/play/world-1" {
		t.Errorf("Expected route prefix '/play/world-1', got '%s'", resolved.RoutePrefix)
	}
	if resolved.Port < 42160 || resolved.Port > 42169 {
		t.Errorf("Game port %d outside allocator range", resolved.Port)
	}
	if resolved.APIPort < 42170 || resolved.APIPort > 42179 {
		t.Errorf("API port %d outside allocator range", resolved.APIPort)
	}
}

func TestWithDefaultsHostnameFallsBackToLocalhost(t *testing.T) {
	gamePorts, apiPorts := testAllocators(t)
	defaults := testDefaults()
	defaults.HostName = ""

	resolved, err := InstanceConfig{WorldID: "world-1"}.withDefaults(defaults, gamePorts, apiPorts)
	if err != nil {
		t.Fatalf("withDefaults failed: %v", err)
	}

	if resolved.HostName != "localhost" {
		t.Errorf("Expected hostname 'localhost', got '%s'", resolved.HostName)
	}
}

func TestWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := InstanceConfig{
		WorldID:       "world-1",
		Port:          30001,
		APIPort:       30101,
		APIKey:        "fixed-key",
		DataPath:      "/data/custom",
		AdminPassword: "hunter2",
		LicenseKey:    "own-license",
		HostName:      "worlds.example.net",
		RoutePrefix:   "/w/world-1",
	}

	// Explicit ports mean the allocators are never consulted.
	resolved, err := cfg.withDefaults(testDefaults(), nil, nil)
	if err != nil {
		t.Fatalf("withDefaults failed: %v", err)
	}

	if resolved != cfg {
		t.Errorf("Expected config unchanged, got %+v", resolved)
	}
}

func TestWithDefaultsReleasesGamePortOnAPIPortFailure(t *testing.T) {
	gamePorts, err := NewPortAllocator(42180, 42180)
	if err != nil {
		t.Fatalf("NewPortAllocator failed: %v", err)
	}
	apiPorts, err := NewPortAllocator(42185, 42185)
	if err != nil {
		t.Fatalf("NewPortAllocator failed: %v", err)
	}

	// Exhaust the API range so the second allocation must fail.
	if _, err := apiPorts.Allocate(); err != nil {
		t.Fatalf("Priming API allocator failed: %v", err)
	}

	_, err = InstanceConfig{WorldID: "world-1"}.withDefaults(testDefaults(), gamePorts, apiPorts)
	if err == nil {
		t.Fatal("Expected port exhaustion error")
	}

	// The game port taken mid-resolution must have been handed back.
	port, err := gamePorts.Allocate()
	if err != nil {
		t.Fatalf("Game port was not released: %v", err)
	}
	if port != 42180 {
		t.Errorf("Expected port 42180, got %d", port)
	}
}

func TestPublicURL(t *testing.T) {
	cfg := InstanceConfig{
		HostName:    "play.example.com",
		Port:        30001,
		RoutePrefix: "/play/world-1",
	}

	expected := "http://play.example.com:30001/play/world-1"
	if got := cfg.PublicURL(); got != expected {
		t.Errorf("Expected URL '%s', got '%s'", expected, got)
	}
}

func TestWorldDataPath(t *testing.T) {
	got := WorldDataPath("/srv/worldsmith", "world-1")
	if !strings.HasSuffix(got, filepath.Join("worlds", "world-1")) {
		t.Errorf("Unexpected data path '%s'", got)
	}
	if !strings.HasPrefix(got, "/srv/worldsmith") {
		t.Errorf("Data path '%s' not under the data root", got)
	}
}
