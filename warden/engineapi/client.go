package engineapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StatusReady is the status value a healthy engine reports.
const StatusReady = "ok"

// HealthStatus is the readiness report from a game engine's control API.
type HealthStatus struct {
	Status string            `json:"status"`
	World  string            `json:"world,omitempty"`
	Engine map[string]string `json:"engine,omitempty"`
}

// Ready reports whether the engine has finished booting its world.
func (h *HealthStatus) Ready() bool {
	return h != nil && h.Status == StatusReady
}

// Client talks to a single instance's control API. Every spawned engine
// process exposes one on a loopback port, authenticated with the per-instance
// API key the supervisor handed it at spawn time.
type Client struct {
	baseURL    string
	apiKey     string
	healthPath string
	httpClient *http.Client
}

// ClientOption represents a functional option for configuring the Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithHealthPath overrides the control API's health endpoint path
func WithHealthPath(path string) ClientOption {
	return func(c *Client) {
		c.healthPath = path
	}
}

// NewClient creates a control API client for the instance at baseURL.
func NewClient(baseURL, apiKey string, options ...ClientOption) *Client {
	client := &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		healthPath: "/health",
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}

	for _, option := range options {
		option(client)
	}

	return client
}

// BaseURL returns the client's base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches the engine's readiness report. Any transport failure,
// non-200 response or undecodable body is returned as an error; callers
// decide whether that means "still booting" or "dead".
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+c.healthPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &status, nil
}
