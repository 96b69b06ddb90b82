package instances

import (
	"fmt"
	"net"
	"sync"
)

// PortAllocator hands out TCP ports for engine processes from a fixed range.
// Each candidate is verified by actually listening on it, so ports held by
// unrelated processes are skipped.
type PortAllocator struct {
	mu            sync.Mutex
	minPort       int
	maxPort       int
	allocated     map[int]bool
	nextCandidate int
}

// NewPortAllocator creates an allocator for the inclusive range
// [minPort, maxPort].
func NewPortAllocator(minPort, maxPort int) (*PortAllocator, error) {
	if minPort <= 0 || maxPort <= 0 || minPort > maxPort {
		return nil, fmt.Errorf("invalid port range: min %d, max %d", minPort, maxPort)
	}
	return &PortAllocator{
		minPort:       minPort,
		maxPort:       maxPort,
		allocated:     make(map[int]bool),
		nextCandidate: minPort,
	}, nil
}

// Allocate finds and reserves an available TCP port within the configured
// range, or returns an error when the range is exhausted.
func (pa *PortAllocator) Allocate() (int, error) {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	firstCandidate := pa.nextCandidate

	for {
		portToTry := pa.nextCandidate

		// Advance the cursor, wrapping around at the top of the range.
		pa.nextCandidate++
		if pa.nextCandidate > pa.maxPort {
			pa.nextCandidate = pa.minPort
		}

		if pa.allocated[portToTry] {
			if pa.nextCandidate == firstCandidate {
				return 0, fmt.Errorf("no available ports in range [%d-%d]", pa.minPort, pa.maxPort)
			}
			continue
		}

		l, err := net.Listen("tcp", fmt.Sprintf(":%d", portToTry))
		if err == nil {
			l.Close()
			pa.allocated[portToTry] = true
			return portToTry, nil
		}

		if pa.nextCandidate == firstCandidate {
			return 0, fmt.Errorf("no available ports in range [%d-%d] after checking system availability", pa.minPort, pa.maxPort)
		}
	}
}

// Release marks a previously allocated port as available again. Ports outside
// the managed range are ignored.
func (pa *PortAllocator) Release(port int) {
	pa.mu.Lock()
	defer pa.mu.Unlock()

	if port < pa.minPort || port > pa.maxPort {
		return
	}

	delete(pa.allocated, port)
}
