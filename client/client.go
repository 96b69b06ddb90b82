package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a Worldsmith platform API client. All methods authenticate with
// the bearer token supplied at construction, which may be either the platform
// internal secret or a minted service token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Use this to raise the timeout
// when the platform is configured with a long engine boot window.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a platform client for the given base URL and bearer token.
func New(baseURL, token string, options ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		// Launch requests block until the engine reports healthy, so the
		// default timeout covers the platform's default boot window.
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doJSON performs a request with an optional JSON body and decodes a JSON
// response into out. A nil body sends no payload; a nil out discards the
// response body.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return NewErrorWithCause(ErrorTypeValidation, "failed to marshal request body", err)
		}
		reader = bytes.NewReader(payload)
	}
	return c.do(ctx, method, path, reader, "application/json", out)
}

// do performs a request with a raw body and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return NewErrorWithCause(ErrorTypeNetwork, "failed to create request", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewNetworkError(fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp, fmt.Sprintf("%s %s", method, path))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewErrorWithCause(ErrorTypeAPI, "failed to parse response", err)
	}
	return nil
}
