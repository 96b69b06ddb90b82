package instances

import (
	"context"
	"fmt"
	"time"

	"github.com/runewick/worldsmith/warden/engineapi"
)

const (
	defaultProbeInterval       = 1 * time.Second
	defaultProbeRequestTimeout = 1 * time.Second
	defaultBootTimeout         = 60 * time.Second
	defaultStopGracePeriod     = 10 * time.Second
)

// Prober waits for a freshly spawned instance's control API to report ready.
// Zero-valued fields fall back to the platform defaults (1s interval, 1s per
// request, 60s overall).
type Prober struct {
	Interval       time.Duration // time between probe attempts
	RequestTimeout time.Duration // deadline for a single probe request
	BootTimeout    time.Duration // overall deadline for the boot wait

	// FailFast makes transport-level probe errors fatal instead of being
	// treated as "not up yet". By default a connection error retries just
	// like a not-ready response, since an engine that is still binding its
	// socket is indistinguishable from one that is gone.
	FailFast bool
}

func (p Prober) withDefaults() Prober {
	if p.Interval <= 0 {
		p.Interval = defaultProbeInterval
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = defaultProbeRequestTimeout
	}
	if p.BootTimeout <= 0 {
		p.BootTimeout = defaultBootTimeout
	}
	return p
}

// WaitReady polls the engine's health endpoint until it reports ready,
// returning a *HealthTimeoutError once the boot window elapses. Cancelling
// ctx aborts the wait immediately.
func (p Prober) WaitReady(ctx context.Context, worldID string, client *engineapi.Client) error {
	p = p.withDefaults()

	deadline := time.NewTimer(p.BootTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		reqCtx, cancel := context.WithTimeout(ctx, p.RequestTimeout)
		status, err := client.Health(reqCtx)
		cancel()

		if err == nil && status.Ready() {
			return nil
		}
		if err != nil && p.FailFast {
			return fmt.Errorf("world %s: health probe failed: %w", worldID, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &HealthTimeoutError{WorldID: worldID, Timeout: p.BootTimeout}
		case <-ticker.C:
		}
	}
}
