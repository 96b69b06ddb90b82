package instances

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// InstanceConfig fully describes how to launch one world's engine process.
// Zero-valued fields are filled from platform defaults and the port
// allocators when the instance is started.
type InstanceConfig struct {
	WorldID       string `json:"worldId"`
	Port          int    `json:"port"`
	APIPort       int    `json:"apiPort"`
	APIKey        string `json:"apiKey"`
	DataPath      string `json:"dataPath"`
	AdminPassword string `json:"adminPassword"`
	LicenseKey    string `json:"licenseKey"`
	HostName      string `json:"hostName"`
	RoutePrefix   string `json:"routePrefix"`
}

// PublicURL returns the address players use to reach the instance directly.
func (c InstanceConfig) PublicURL() string {
	return fmt.Sprintf("http://%s:%d%s", c.HostName, c.Port, c.RoutePrefix)
}

// InstanceDefaults supplies platform-level fallbacks applied to instance
// configs at start time.
type InstanceDefaults struct {
	DataRoot      string
	HostName      string
	LicenseKey    string
	AdminPassword string
}

// WorldDataPath returns the conventional data directory for a world under a
// data root.
func WorldDataPath(dataRoot, worldID string) string {
	return filepath.Join(dataRoot, "worlds", worldID)
}

// withDefaults fills the config's zero-valued fields, allocating ports where
// needed. A missing world id or license credential is a configuration error;
// everything else has a sensible fallback.
func (c InstanceConfig) withDefaults(defaults InstanceDefaults, gamePorts, apiPorts *PortAllocator) (InstanceConfig, error) {
	if c.WorldID == "" {
		return c, &ConfigurationError{Field: "worldId", Reason: "world id is required"}
	}

	if c.LicenseKey == "" {
		c.LicenseKey = defaults.LicenseKey
	}
	if c.LicenseKey == "" {
		return c, &ConfigurationError{Field: "licenseKey", Reason: "no engine license configured"}
	}

	if c.HostName == "" {
		c.HostName = defaults.HostName
	}
	if c.HostName == "" {
		c.HostName = "localhost"
	}

	if c.DataPath == "" {
		if defaults.DataRoot == "" {
			return c, &ConfigurationError{Field: "dataPath", Reason: "no data root configured"}
		}
		c.DataPath = WorldDataPath(defaults.DataRoot, c.WorldID)
	}

	if c.AdminPassword == "" {
		c.AdminPassword = defaults.AdminPassword
	}
	if c.APIKey == "" {
		c.APIKey = uuid.New().String()
	}
	if c.RoutePrefix == "" {
		c.RoutePrefix = "/play/" + c.WorldID
	}

	allocatedGame := false
	if c.Port == 0 {
		port, err := gamePorts.Allocate()
		if err != nil {
			return c, err
		}
		c.Port = port
		allocatedGame = true
	}
	if c.APIPort == 0 {
		port, err := apiPorts.Allocate()
		if err != nil {
			if allocatedGame {
				gamePorts.Release(c.Port)
			}
			return c, err
		}
		c.APIPort = port
	}

	return c, nil
}

// InstanceInfo is the public projection of an instance's current state.
type InstanceInfo struct {
	WorldID   string    `json:"worldId"`
	Port      int       `json:"port"`
	APIPort   int       `json:"apiPort"`
	PID       int       `json:"pid"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	URL       string    `json:"url"`
	APIURL    string    `json:"apiUrl"`
}
