package instances

// Status represents the lifecycle state of an instance controller.
type Status int

const (
	// StatusStopped means no engine process exists for the world.
	StatusStopped Status = iota
	// StatusStarting means the process was spawned and the boot wait is in
	// progress.
	StatusStarting
	// StatusRunning means the process is up and reported healthy.
	StatusRunning
	// StatusStopping means a graceful shutdown is in progress.
	StatusStopping
	// StatusError means the last start failed or the process exited
	// unexpectedly. Terminal until an explicit restart.
	StatusError
)

// String returns a string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusError:
		return "error"
	default:
		return "invalid"
	}
}
