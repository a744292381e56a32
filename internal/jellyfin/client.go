// Package jellyfin implements the HTTP and WebSocket client for a single
// Jellyfin server, plus LAN discovery and address resolution.
package jellyfin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/offcast/offcast/internal/config"
	"github.com/offcast/offcast/internal/httpclient"
)

const (
	clientName    = "Offcast"
	clientVersion = "1.0"
)

// StatusError is returned for non-2xx responses so callers can match on the code
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Body)
}

// IsUnauthorized reports whether err is a 401 from the server
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}

// Client is an API handle bound to one server's base URL and access token.
// BaseURL and token can be swapped when a session restarts against the same
// server; all methods are safe for concurrent use.
type Client struct {
	mu       sync.RWMutex
	baseURL  string
	token    string
	deviceID string

	http *http.Client
}

// NewClient creates a client for the given base URL. The token may be empty
// until authentication succeeds.
func NewClient(baseURL, token, deviceID string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		deviceID: deviceID,
		http:     httpclient.NewTraceClient("jellyfin", config.GetTimeouts().HTTPClient),
	}
}

// BaseURL returns the configured server address
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL updates the server address, e.g. after an address re-resolve
func (c *Client) SetBaseURL(baseURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// Token returns the current access token (empty before authentication)
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken updates the bearer token after authentication or session restore
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// DeviceID returns the device identifier sent with every request
func (c *Client) DeviceID() string {
	return c.deviceID
}

// authHeader builds the MediaBrowser authorization header Jellyfin expects
func (c *Client) authHeader() string {
	header := fmt.Sprintf(`MediaBrowser Client="%s", Device="%s", DeviceId="%s", Version="%s"`,
		clientName, clientName, c.deviceID, clientVersion)
	if token := c.Token(); token != "" {
		header += fmt.Sprintf(`, Token="%s"`, token)
	}
	return header
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Accept", "application/json")
}

// do runs a request and decodes a JSON response into out (out may be nil for
// endpoints returning 204)
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// SystemInfo fetches authenticated server info
func (c *Client) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	var info SystemInfo
	if err := c.do(ctx, http.MethodGet, "/System/Info", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// PublicSystemInfo fetches unauthenticated server info, used to validate addresses
func (c *Client) PublicSystemInfo(ctx context.Context) (*PublicSystemInfo, error) {
	var info PublicSystemInfo
	if err := c.do(ctx, http.MethodGet, "/System/Info/Public", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Download fetches a URL with an optional byte-range offset, returning the
// response for streaming. The caller owns the body.
func (c *Client) Download(ctx context.Context, rawURL string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	// The shared client enforces a request timeout that would cut long
	// transfers short, so downloads use a bare transport and rely on ctx.
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return resp, nil
}

var downloadClient = &http.Client{}
