package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// EngineProfile describes how to invoke the game engine binary. It is loaded
// from a TOML file so operators can swap engine builds without touching the
// platform environment.
type EngineProfile struct {
	Bin        string   `toml:"bin"`
	BaseArgs   []string `toml:"base_args"`
	Env        []string `toml:"env"`
	HealthPath string   `toml:"health_path"`
	WorkDir    string   `toml:"work_dir"`
}

// LoadEngineProfile reads and validates an engine profile file.
func LoadEngineProfile(path string) (EngineProfile, error) {
	var profile EngineProfile
	if _, err := toml.DecodeFile(path, &profile); err != nil {
		return EngineProfile{}, fmt.Errorf("load engine profile %s: %w", path, err)
	}

	profile.Bin = strings.TrimSpace(profile.Bin)
	profile.HealthPath = strings.TrimSpace(profile.HealthPath)
	profile.WorkDir = strings.TrimSpace(profile.WorkDir)
	if profile.HealthPath == "" {
		profile.HealthPath = "/health"
	}

	if err := profile.Validate(); err != nil {
		return EngineProfile{}, err
	}
	return profile, nil
}

func (p EngineProfile) Validate() error {
	if p.Bin == "" {
		return fmt.Errorf("engine profile is missing bin")
	}
	if !strings.HasPrefix(p.HealthPath, "/") {
		return fmt.Errorf("engine profile health_path must start with /, got %q", p.HealthPath)
	}
	for _, kv := range p.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("engine profile env entry %q must be KEY=VALUE", kv)
		}
	}
	return nil
}
