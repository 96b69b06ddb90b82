package instances

import (
	"fmt"
	"net"
	"testing"
)

func TestNewPortAllocatorInvalidRange(t *testing.T) {
	tests := []struct {
		name string
		min  int
		max  int
	}{
		{"MinAboveMax", 42200, 42100},
		{"ZeroMin", 0, 42100},
		{"NegativeMax", 42100, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPortAllocator(tt.min, tt.max); err == nil {
				t.Errorf("Expected error for range [%d-%d]", tt.min, tt.max)
			}
		})
	}
}

func TestPortAllocatorAllocatesDistinctPorts(t *testing.T) {
	pa, err := NewPortAllocator(42100, 42110)
	if err != nil {
		t.Fatalf("NewPortAllocator failed: %v", err)
	}

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		port, err := pa.Allocate()
		if err != nil {
			t.Fatalf("Allocate %d failed: %v", i, err)
		}
		if port < 42100 || port > 42110 {
			t.Errorf("Port %d outside range [42100-42110]", port)
		}
		if seen[port] {
			t.Errorf("Port %d allocated twice", port)
		}
		seen[port] = true
	}
}

func TestPortAllocatorExhaustion(t *testing.T) {
	pa, err := NewPortAllocator(42120, 42121)
	if err != nil {
		t.Fatalf("NewPortAllocator failed: %v", err)
	}

	if _, err := pa.Allocate(); err != nil {
		t.Fatalf("First Allocate failed: %v", err)
	}
	if _, err := pa.Allocate(); err != nil {
		t.Fatalf("Second Allocate failed: %v", err)
	}

	if _, err := pa.Allocate(); err == nil {
		t.Error("Expected exhaustion error on third Allocate")
	}
}

func TestPortAllocatorRelease(t *testing.T) {
	pa, err := NewPortAllocator(42130, 42130)
	if err != nil {
		t.Fatalf("NewPortAllocator failed: %v", err)
	}

	port, err := pa.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if port != 42130 {
		t.Fatalf("Expected port 42130, got %d", port)
	}

	if _, err := pa.Allocate(); err == nil {
		t.Fatal("Expected exhaustion error")
	}

	pa.Release(port)

	again, err := pa.Allocate()
	if err != nil {
		t.Fatalf("Allocate after Release failed: %v", err)
	}
	if again != port {
		t.Errorf("Expected released port %d, got %d", port, again)
	}
}

func TestPortAllocatorReleaseOutOfRange(t *testing.T) {
	pa, err := NewPortAllocator(42140, 42141)
	if err != nil {
		t.Fatalf("NewPortAllocator failed: %v", err)
	}

	// Must not panic or free anything
	pa.Release(80)
	pa.Release(42139)
	pa.Release(42142)
}

func TestPortAllocatorSkipsBusyPorts(t *testing.T) {
	// Hold the first port of the range so the allocator has to skip it.
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", 42150))
	if err != nil {
		t.Skipf("Could not listen on test port: %v", err)
	}
	defer l.Close()

	pa, err := NewPortAllocator(42150, 42155)
	if err != nil {
		t.Fatalf("NewPortAllocator failed: %v", err)
	}

	port, err := pa.Allocate()
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if port == 42150 {
		t.Error("Allocator handed out a port that is already in use")
	}
}
