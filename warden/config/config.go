// Package config loads the platform configuration from the environment and
// the engine profile from a TOML file. All knobs carry defaults suitable for
// a single-host deployment under /var/lib/worldsmith.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the platform configuration, parsed from WORLDSMITH_* environment
// variables.
type Config struct {
	ListenAddr   string `env:"WORLDSMITH_LISTEN_ADDR"   envDefault:"0.0.0.0:8443"`
	ExternalHost string `env:"WORLDSMITH_EXTERNAL_HOST" envDefault:"localhost"`
	CertFile     string `env:"WORLDSMITH_TLS_CERT_FILE"`
	KeyFile      string `env:"WORLDSMITH_TLS_KEY_FILE"`

	DataRoot          string `env:"WORLDSMITH_DATA_ROOT" envDefault:"/var/lib/worldsmith"`
	DatabasePath      string `env:"WORLDSMITH_DB_PATH"`
	SnapshotDir       string `env:"WORLDSMITH_SNAPSHOT_DIR"`
	SecretKeyPath     string `env:"WORLDSMITH_SECRET_KEY_PATH"`
	EngineProfilePath string `env:"WORLDSMITH_ENGINE_PROFILE" envDefault:"engine.toml"`

	InternalSecret  string        `env:"WORLDSMITH_INTERNAL_SECRET"`
	ServiceTokenTTL time.Duration `env:"WORLDSMITH_SERVICE_TOKEN_TTL" envDefault:"12h"`

	GamePortMin int `env:"WORLDSMITH_GAME_PORT_MIN" envDefault:"30000"`
	GamePortMax int `env:"WORLDSMITH_GAME_PORT_MAX" envDefault:"30999"`
	APIPortMin  int `env:"WORLDSMITH_API_PORT_MIN"  envDefault:"31000"`
	APIPortMax  int `env:"WORLDSMITH_API_PORT_MAX"  envDefault:"31999"`

	LicenseKey    string `env:"WORLDSMITH_ENGINE_LICENSE_KEY"`
	AdminPassword string `env:"WORLDSMITH_ENGINE_ADMIN_PASSWORD"`
	StorageDSN    string `env:"WORLDSMITH_ENGINE_STORAGE_DSN"`

	ProbeInterval       time.Duration `env:"WORLDSMITH_PROBE_INTERVAL"        envDefault:"1s"`
	ProbeRequestTimeout time.Duration `env:"WORLDSMITH_PROBE_REQUEST_TIMEOUT" envDefault:"1s"`
	BootTimeout         time.Duration `env:"WORLDSMITH_BOOT_TIMEOUT"          envDefault:"60s"`
	ProbeFailFast       bool          `env:"WORLDSMITH_PROBE_FAIL_FAST"       envDefault:"false"`
	StopGracePeriod     time.Duration `env:"WORLDSMITH_STOP_GRACE_PERIOD"     envDefault:"10s"`
}

// Load parses the environment, fills derived paths and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDerived fills paths that default to locations under the data root.
func (c *Config) applyDerived() {
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataRoot, "worldsmith.db")
	}
	if c.SnapshotDir == "" {
		c.SnapshotDir = filepath.Join(c.DataRoot, "snapshots")
	}
	if c.SecretKeyPath == "" {
		c.SecretKeyPath = filepath.Join(c.DataRoot, "platform.key")
	}
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config missing listen addr")
	}
	if c.DataRoot == "" {
		return fmt.Errorf("config missing data root")
	}
	if err := validatePortRange("game", c.GamePortMin, c.GamePortMax); err != nil {
		return err
	}
	if err := validatePortRange("api", c.APIPortMin, c.APIPortMax); err != nil {
		return err
	}
	// The two ranges feed separate allocators, so an overlap would hand the
	// same port out twice.
	if c.GamePortMin <= c.APIPortMax && c.APIPortMin <= c.GamePortMax {
		return fmt.Errorf("config game port range [%d-%d] overlaps api port range [%d-%d]",
			c.GamePortMin, c.GamePortMax, c.APIPortMin, c.APIPortMax)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("config requires both tls cert file and key file, or neither")
	}
	return nil
}

func validatePortRange(name string, min, max int) error {
	if min <= 0 || max <= 0 {
		return fmt.Errorf("config %s port range requires positive bounds, got [%d-%d]", name, min, max)
	}
	if min > max {
		return fmt.Errorf("config %s port range is inverted: [%d-%d]", name, min, max)
	}
	return nil
}
