package instances

import (
	"fmt"
	"os"
	"os/exec"
)

// Launcher builds the exec.Cmd for a world's engine process. The spawn
// contract: argv carries the world id, game port, data path, hostname and the
// optional route prefix and admin credential; the environment carries the
// license credential, the control API port/key and the storage connection
// string.
type Launcher struct {
	Bin        string   // engine executable path
	BaseArgs   []string // profile args placed before the per-instance flags
	Env        []string // extra KEY=VALUE pairs from the engine profile
	HealthPath string   // control API readiness path, defaults to /health
	WorkDir    string   // working directory for the engine process
	StorageDSN string   // handed to the engine for its own persistence needs
}

// Command constructs the command for one instance. The returned command is
// not started; process lifetime is managed exclusively through signals so the
// grace-period escalation always applies.
func (l *Launcher) Command(cfg InstanceConfig) *exec.Cmd {
	args := append([]string{}, l.BaseArgs...)
	args = append(args,
		fmt.Sprintf("--world=%s", cfg.WorldID),
		fmt.Sprintf("--port=%d", cfg.Port),
		fmt.Sprintf("--datapath=%s", cfg.DataPath),
		fmt.Sprintf("--hostname=%s", cfg.HostName),
	)
	if cfg.RoutePrefix != "" {
		args = append(args, fmt.Sprintf("--routeprefix=%s", cfg.RoutePrefix))
	}
	if cfg.AdminPassword != "" {
		args = append(args, fmt.Sprintf("--adminpassword=%s", cfg.AdminPassword))
	}

	cmd := exec.Command(l.Bin, args...)
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, l.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("ENGINE_LICENSE_KEY=%s", cfg.LicenseKey))
	cmd.Env = append(cmd.Env, fmt.Sprintf("ENGINE_API_PORT=%d", cfg.APIPort))
	cmd.Env = append(cmd.Env, fmt.Sprintf("ENGINE_API_KEY=%s", cfg.APIKey))
	if l.StorageDSN != "" {
		cmd.Env = append(cmd.Env, fmt.Sprintf("ENGINE_STORAGE_DSN=%s", l.StorageDSN))
	}
	if l.WorkDir != "" {
		cmd.Dir = l.WorkDir
	}
	return cmd
}
