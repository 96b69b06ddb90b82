package instances

import (
	"errors"
	"fmt"
	"time"
)

// ErrStartInProgress is returned when Start is called while a previous start
// for the same instance is still waiting on the health probe.
var ErrStartInProgress = errors.New("instance start already in progress")

// ErrStopInProgress is returned when Start is called while the instance is
// being stopped.
var ErrStopInProgress = errors.New("instance stop already in progress")

// ConfigurationError means a required credential or setting was missing from
// an instance config and could not be filled from platform defaults.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid instance configuration: %s: %s", e.Field, e.Reason)
}

// SpawnError means the OS failed to create the engine process, or the process
// died before ever reporting healthy.
type SpawnError struct {
	WorldID string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn engine process for world %s: %v", e.WorldID, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// HealthTimeoutError means the engine process started but never reported
// healthy within the boot window.
type HealthTimeoutError struct {
	WorldID string
	Timeout time.Duration
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("world %s: instance did not report healthy within %s", e.WorldID, e.Timeout)
}

// NotFoundError means an operation referenced a world with no registered
// instance.
type NotFoundError struct {
	WorldID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no instance registered for world %s", e.WorldID)
}
