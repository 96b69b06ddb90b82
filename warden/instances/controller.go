package instances

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/runewick/worldsmith/warden/engineapi"
)

// Controller supervises the single engine process for one world: it spawns
// the process, captures its output, waits for it to report healthy, and
// terminates it with a grace-period escalation. Lifecycle state moves through
// stopped -> starting -> running -> stopping -> stopped, with error reachable
// from starting (spawn failure, health timeout) or from an unexpected exit.
type Controller struct {
	cfg       InstanceConfig
	id        string
	launcher  *Launcher
	prober    Prober
	engine    *engineapi.Client
	logger    *slog.Logger
	stopGrace time.Duration
	logBuffer *LogBuffer

	mu        sync.Mutex
	status    Status
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	exitChan  chan struct{} // closed by the exit watcher once the process is gone
	exitErr   error
}

// ControllerOptions carries the collaborators a Controller needs. Zero values
// fall back to defaults.
type ControllerOptions struct {
	Launcher  *Launcher
	Prober    Prober
	StopGrace time.Duration // grace period before SIGKILL, defaults to 10s
	Logger    *slog.Logger
}

// NewController creates a controller for the given fully-resolved config. The
// controller is assigned a fresh instance id that identifies this world's
// tenancy for as long as the controller lives, across restarts.
func NewController(cfg InstanceConfig, opts ControllerOptions) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	launcher := opts.Launcher
	if launcher == nil {
		launcher = &Launcher{}
	}
	stopGrace := opts.StopGrace
	if stopGrace == 0 {
		stopGrace = defaultStopGracePeriod
	}

	var engineOpts []engineapi.ClientOption
	if launcher.HealthPath != "" {
		engineOpts = append(engineOpts, engineapi.WithHealthPath(launcher.HealthPath))
	}

	return &Controller{
		cfg:       cfg,
		id:        uuid.New().String(),
		launcher:  launcher,
		prober:    opts.Prober,
		engine:    engineapi.NewClient(fmt.Sprintf("http://127.0.0.1:%d", cfg.APIPort), cfg.APIKey, engineOpts...),
		logger:    logger.With("component", "Controller", "worldId", cfg.WorldID),
		stopGrace: stopGrace,
		logBuffer: NewLogBuffer(1000),
		status:    StatusStopped,
	}
}

// ID returns the instance id assigned at controller creation.
func (c *Controller) ID() string {
	return c.id
}

// Config returns a copy of the instance's resolved config.
func (c *Controller) Config() InstanceConfig {
	return c.cfg
}

// Status returns the current lifecycle status thread-safely.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsRunning reports whether the instance is healthy with a live process.
func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusRunning && c.cmd != nil
}

// Info returns a side-effect-free projection of the instance's state.
func (c *Controller) Info() InstanceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked()
}

func (c *Controller) infoLocked() InstanceInfo {
	return InstanceInfo{
		WorldID:   c.cfg.WorldID,
		Port:      c.cfg.Port,
		APIPort:   c.cfg.APIPort,
		PID:       c.pid,
		Status:    c.status.String(),
		StartedAt: c.startedAt,
		URL:       c.cfg.PublicURL(),
		APIURL:    c.engine.BaseURL(),
	}
}

// Logs returns captured engine output with entry ids greater than afterID.
func (c *Controller) Logs(afterID int64) []EngineLogEntry {
	return c.logBuffer.GetEntriesFromID(afterID)
}

// Start spawns the engine process and blocks until it reports healthy or the
// boot fails. A start on an already-running instance is a no-op returning the
// current info; a start while another start or a stop is in flight is
// rejected. Cancelling ctx aborts the boot wait and tears the process down.
func (c *Controller) Start(ctx context.Context) (InstanceInfo, error) {
	c.mu.Lock()
	switch c.status {
	case StatusRunning:
		info := c.infoLocked()
		c.mu.Unlock()
		c.logger.Info("Instance already running", "pid", info.PID)
		return info, nil
	case StatusStarting:
		c.mu.Unlock()
		return InstanceInfo{}, ErrStartInProgress
	case StatusStopping:
		c.mu.Unlock()
		return InstanceInfo{}, ErrStopInProgress
	}
	c.status = StatusStarting
	c.mu.Unlock()

	return c.spawnAndWait(ctx)
}

func (c *Controller) spawnAndWait(ctx context.Context) (InstanceInfo, error) {
	cmd := c.launcher.Command(c.cfg)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		c.setStatus(StatusError)
		return InstanceInfo{}, &SpawnError{WorldID: c.cfg.WorldID, Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdoutPipe.Close()
		c.setStatus(StatusError)
		return InstanceInfo{}, &SpawnError{WorldID: c.cfg.WorldID, Err: err}
	}

	if c.cfg.DataPath != "" {
		if err := os.MkdirAll(c.cfg.DataPath, 0755); err != nil {
			stdoutPipe.Close()
			stderrPipe.Close()
			c.setStatus(StatusError)
			return InstanceInfo{}, &SpawnError{WorldID: c.cfg.WorldID, Err: err}
		}
	}

	if err := cmd.Start(); err != nil {
		c.setStatus(StatusError)
		return InstanceInfo{}, &SpawnError{WorldID: c.cfg.WorldID, Err: err}
	}

	exitChan := make(chan struct{})
	c.mu.Lock()
	c.cmd = cmd
	c.pid = cmd.Process.Pid
	c.startedAt = time.Now()
	c.exitChan = exitChan
	c.exitErr = nil
	pid := c.pid
	c.mu.Unlock()

	c.logger.Info("Engine process spawned", "pid", pid, "port", c.cfg.Port, "apiPort", c.cfg.APIPort, "command", cmd.String())

	go c.streamOutput(stdoutPipe, "stdout", pid)
	go c.streamOutput(stderrPipe, "stderr", pid)
	go func() {
		err := cmd.Wait()
		c.handleExit(err, exitChan)
	}()

	// Wait for readiness, aborting early if the process dies underneath us.
	probeCtx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-exitChan:
			cancel()
		case <-probeCtx.Done():
		}
	}()
	probeErr := c.prober.WaitReady(probeCtx, c.cfg.WorldID, c.engine)
	cancel()

	if probeErr != nil {
		select {
		case <-exitChan:
			// The process died during boot; surface its exit error.
			c.mu.Lock()
			exitErr := c.exitErr
			c.mu.Unlock()
			reason := errors.New("engine exited during boot")
			if exitErr != nil {
				reason = fmt.Errorf("engine exited during boot: %w", exitErr)
			}
			return InstanceInfo{}, &SpawnError{WorldID: c.cfg.WorldID, Err: reason}
		default:
		}

		// Still alive but never became healthy; tear it down before failing.
		c.logger.Error("Instance never became healthy, terminating", "pid", pid, "error", probeErr)
		c.terminateProcess(context.Background(), cmd.Process, pid, exitChan)
		c.setStatus(StatusError)
		return InstanceInfo{}, probeErr
	}

	c.mu.Lock()
	if c.status != StatusStarting {
		// Stopped out from under us while the probe was succeeding; don't
		// leave the process behind.
		c.mu.Unlock()
		c.terminateProcess(context.Background(), cmd.Process, pid, exitChan)
		return InstanceInfo{}, fmt.Errorf("world %s: instance was stopped during startup", c.cfg.WorldID)
	}
	c.status = StatusRunning
	info := c.infoLocked()
	c.mu.Unlock()

	c.logger.Info("Instance is healthy", "pid", info.PID, "url", info.URL)
	return info, nil
}

// Stop terminates the engine process: SIGTERM, then after the grace period a
// single SIGKILL. It returns only once the process's exit notification has
// fired. Stopping an instance with no live process is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case StatusStopped, StatusError:
		c.mu.Unlock()
		return nil
	case StatusStopping:
		// Another stop is in flight; wait for the same exit.
		exitChan := c.exitChan
		c.mu.Unlock()
		if exitChan != nil {
			select {
			case <-exitChan:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}
	if c.cmd == nil || c.cmd.Process == nil {
		c.status = StatusStopped
		c.mu.Unlock()
		return nil
	}
	c.status = StatusStopping
	proc := c.cmd.Process
	pid := c.pid
	exitChan := c.exitChan
	c.mu.Unlock()

	c.logger.Info("Stopping engine process", "pid", pid)
	if err := c.terminateProcess(ctx, proc, pid, exitChan); err != nil {
		return err
	}
	c.logger.Info("Engine process stopped", "pid", pid)
	return nil
}

// terminateProcess sends SIGTERM, escalates to exactly one SIGKILL if the
// process outlives the grace period, and returns once the exit notification
// fires.
func (c *Controller) terminateProcess(ctx context.Context, proc *os.Process, pid int, exitChan <-chan struct{}) error {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		c.logger.Error("Failed to send SIGTERM to engine process", "pid", pid, "error", err)
	}

	graceTimer := time.NewTimer(c.stopGrace)
	defer graceTimer.Stop()

	select {
	case <-exitChan:
		return nil
	case <-ctx.Done():
		c.logger.Warn("Stop cancelled before exit, sending SIGKILL", "pid", pid)
		if err := proc.Kill(); err != nil {
			c.logger.Error("Failed to send SIGKILL to engine process", "pid", pid, "error", err)
		}
		<-exitChan
		return ctx.Err()
	case <-graceTimer.C:
		c.logger.Warn("Engine process did not exit within grace period, sending SIGKILL", "pid", pid, "grace", c.stopGrace)
		if err := proc.Kill(); err != nil {
			c.logger.Error("Failed to send SIGKILL to engine process", "pid", pid, "error", err)
			return fmt.Errorf("failed to kill engine process for world %s (pid %d): %w", c.cfg.WorldID, pid, err)
		}
		<-exitChan
		return nil
	}
}

// Restart stops the instance if needed and starts it again with the same
// resolved config.
func (c *Controller) Restart(ctx context.Context) (InstanceInfo, error) {
	if err := c.Stop(ctx); err != nil {
		return InstanceInfo{}, err
	}
	return c.Start(ctx)
}

// handleExit runs once per process, from the exit watcher goroutine. An exit
// during stopping is the expected completion of a stop; any other exit is a
// failure.
func (c *Controller) handleExit(exitErr error, exitChan chan struct{}) {
	c.mu.Lock()
	c.exitErr = exitErr
	c.cmd = nil
	prev := c.status
	switch prev {
	case StatusStopping:
		c.status = StatusStopped
	default:
		c.status = StatusError
	}
	pid := c.pid
	c.mu.Unlock()

	if prev == StatusRunning {
		c.logger.Error("Engine process exited unexpectedly", "pid", pid, "error", exitErr)
	} else {
		c.logger.Info("Engine process exited", "pid", pid, "error", exitErr, "previousStatus", prev.String())
	}

	close(exitChan)
}

// streamOutput forwards one of the engine's output streams to the platform
// log and the instance's ring buffer, line by line, until the pipe closes.
func (c *Controller) streamOutput(pipe io.ReadCloser, source string, pid int) {
	defer pipe.Close()

	level := "info"
	if source == "stderr" {
		level = "error"
	}

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		c.logBuffer.AddEntry(level, source, line, pid)
		if source == "stderr" {
			c.logger.Error("Engine stderr", "pid", pid, "output", line)
		} else {
			c.logger.Info("Engine stdout", "pid", pid, "output", line)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Error("Error reading engine output", "source", source, "pid", pid, "error", err)
	}
}

func (c *Controller) setStatus(status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}
