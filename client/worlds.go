package client

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"
)

// PlatformStatus reports gateway liveness and the running instance count.
type PlatformStatus struct {
	Status           string `json:"status"`
	RunningInstances int    `json:"runningInstances"`
}

// Instance describes a supervised engine process.
type Instance struct {
	WorldID   string    `json:"worldId"`
	Port      int       `json:"port"`
	APIPort   int       `json:"apiPort"`
	PID       int       `json:"pid"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	URL       string    `json:"url"`
	APIURL    string    `json:"apiUrl"`
}

// LaunchConfig carries optional per-launch overrides. Zero-valued fields are
// filled from platform defaults and the port allocators.
type LaunchConfig struct {
	Port          int    `json:"port,omitempty"`
	APIPort       int    `json:"apiPort,omitempty"`
	APIKey        string `json:"apiKey,omitempty"`
	DataPath      string `json:"dataPath,omitempty"`
	AdminPassword string `json:"adminPassword,omitempty"`
	LicenseKey    string `json:"licenseKey,omitempty"`
	HostName      string `json:"hostName,omitempty"`
	RoutePrefix   string `json:"routePrefix,omitempty"`
}

// LogEntry is one line of captured engine output.
type LogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	PID       int       `json:"pid"`
}

// WorldLogs is a page of engine log entries. LatestID is the cursor to pass
// as afterID on the next poll.
type WorldLogs struct {
	Entries  []LogEntry `json:"entries"`
	LatestID int64      `json:"latestId"`
}

// MigrateResult reports a completed snapshot migration.
type MigrateResult struct {
	Status      string `json:"status"`
	WorldID     string `json:"worldId"`
	SnapshotURL string `json:"snapshotUrl"`
}

type serviceTokenRequest struct {
	Service string `json:"service"`
}

type serviceTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

type instanceListResponse struct {
	Instances []Instance `json:"instances"`
}

func worldPath(worldID, action string) string {
	return fmt.Sprintf("/api/worlds/%s/%s", url.PathEscape(worldID), action)
}

// Status returns the platform status and running instance count.
func (c *Client) Status(ctx context.Context) (*PlatformStatus, error) {
	var status PlatformStatus
	if err := c.doJSON(ctx, "GET", "/api/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Instances lists every supervised instance.
func (c *Client) Instances(ctx context.Context) ([]Instance, error) {
	var list instanceListResponse
	if err := c.doJSON(ctx, "GET", "/api/instances", nil, &list); err != nil {
		return nil, err
	}
	return list.Instances, nil
}

// LaunchWorld boots an engine process for the world and blocks until it
// reports healthy. A nil config launches with platform defaults.
func (c *Client) LaunchWorld(ctx context.Context, worldID string, config *LaunchConfig) (*Instance, error) {
	if worldID == "" {
		return nil, NewError(ErrorTypeValidation, "world id is required")
	}
	var body interface{}
	if config != nil {
		body = config
	}
	var info Instance
	if err := c.doJSON(ctx, "POST", worldPath(worldID, "launch"), body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ShutdownWorld stops the world's engine process and waits for its data to be
// saved back to storage.
func (c *Client) ShutdownWorld(ctx context.Context, worldID string) error {
	if worldID == "" {
		return NewError(ErrorTypeValidation, "world id is required")
	}
	return c.doJSON(ctx, "POST", worldPath(worldID, "shutdown"), nil, nil)
}

// RestartWorld stops the world's instance and boots a fresh one.
func (c *Client) RestartWorld(ctx context.Context, worldID string) (*Instance, error) {
	if worldID == "" {
		return nil, NewError(ErrorTypeValidation, "world id is required")
	}
	var info Instance
	if err := c.doJSON(ctx, "POST", worldPath(worldID, "restart"), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// WorldInstance returns the world's current instance, or a not-found error
// when none is registered.
func (c *Client) WorldInstance(ctx context.Context, worldID string) (*Instance, error) {
	if worldID == "" {
		return nil, NewError(ErrorTypeValidation, "world id is required")
	}
	var info Instance
	if err := c.doJSON(ctx, "GET", worldPath(worldID, "instance"), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// WorldLock returns the world's edit-lock verdict.
func (c *Client) WorldLock(ctx context.Context, worldID string) (*LockWorldState, error) {
	if worldID == "" {
		return nil, NewError(ErrorTypeValidation, "world id is required")
	}
	var lock LockWorldState
	if err := c.doJSON(ctx, "GET", worldPath(worldID, "lock"), nil, &lock); err != nil {
		return nil, err
	}
	return &lock, nil
}

// WorldLogs returns engine log entries with an id greater than afterID. Pass
// zero to read from the start of the retained window.
func (c *Client) WorldLogs(ctx context.Context, worldID string, afterID int64) (*WorldLogs, error) {
	if worldID == "" {
		return nil, NewError(ErrorTypeValidation, "world id is required")
	}
	path := worldPath(worldID, "logs")
	if afterID > 0 {
		path = fmt.Sprintf("%s?after=%d", path, afterID)
	}
	var logs WorldLogs
	if err := c.doJSON(ctx, "GET", path, nil, &logs); err != nil {
		return nil, err
	}
	return &logs, nil
}

// MigrateWorld moves the world's stored snapshot to a new storage directory.
func (c *Client) MigrateWorld(ctx context.Context, worldID, destinationDir string) (*MigrateResult, error) {
	if worldID == "" {
		return nil, NewError(ErrorTypeValidation, "world id is required")
	}
	if destinationDir == "" {
		return nil, NewError(ErrorTypeValidation, "destination dir is required")
	}
	body := map[string]string{"destinationDir": destinationDir}
	var result MigrateResult
	if err := c.doJSON(ctx, "POST", worldPath(worldID, "migrate"), body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ImportWorldData replaces the world's stored data with the contents of a
// snapshot archive. The world must be editable; a live world produces a
// locked error.
func (c *Client) ImportWorldData(ctx context.Context, worldID string, archive io.Reader) error {
	if worldID == "" {
		return NewError(ErrorTypeValidation, "world id is required")
	}
	if archive == nil {
		return NewError(ErrorTypeValidation, "archive is required")
	}
	return c.do(ctx, "POST", worldPath(worldID, "data"), archive, "application/zip", nil)
}

// IssueServiceToken mints a scoped bearer token for another platform service.
// Only clients authenticated with the internal secret may mint tokens.
func (c *Client) IssueServiceToken(ctx context.Context, service string) (string, time.Time, error) {
	if service == "" {
		return "", time.Time{}, NewError(ErrorTypeValidation, "service name is required")
	}
	var resp serviceTokenResponse
	if err := c.doJSON(ctx, "POST", "/api/auth/service_token", serviceTokenRequest{Service: service}, &resp); err != nil {
		return "", time.Time{}, err
	}
	return resp.Token, time.Unix(resp.ExpiresAt, 0), nil
}
