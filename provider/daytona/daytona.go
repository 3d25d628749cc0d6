// Package daytona implements lagoon.Provider against a Daytona-style
// workspace API over HTTP. This is the production provider: workspaces are
// billable remote VMs with public preview URLs per exposed port.
package daytona

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/lagoon"
)

// Client implements lagoon.Provider by calling the workspace API.
type Client struct {
	cfg    clientConfig
	client *http.Client
}

var _ lagoon.Provider = (*Client)(nil)

type clientConfig struct {
	apiURL     string
	apiKey     string
	target     string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
}

// Option configures a Client.
type Option func(*clientConfig, *Client)

// WithAPIKey sets the bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *clientConfig, _ *Client) { c.apiKey = key }
}

// WithTarget sets the provider region/target new workspaces are placed in.
func WithTarget(target string) Option {
	return func(c *clientConfig, _ *Client) { c.target = target }
}

// WithTimeout bounds each API call (default 30s). Callers usually also pass
// a bounded context; the shorter deadline wins.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig, _ *Client) { c.timeout = d }
}

// WithMaxRetries sets the attempt count for fetches (default 3). Only
// fetches retry: create, start, and delete are never retried here so a
// timeout can't silently multiply billable resources.
func WithMaxRetries(n int) Option {
	return func(c *clientConfig, _ *Client) { c.maxRetries = n }
}

// WithRetryDelay sets the initial backoff between fetch attempts (default
// 500ms, doubling each attempt).
func WithRetryDelay(d time.Duration) Option {
	return func(c *clientConfig, _ *Client) { c.retryDelay = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(_ *clientConfig, c *Client) { c.client = hc }
}

// New creates a Client for the workspace API at apiURL
// (e.g. "https://api.daytona.example").
func New(apiURL string, opts ...Option) *Client {
	c := &Client{
		cfg: clientConfig{
			apiURL:     strings.TrimRight(apiURL, "/"),
			timeout:    30 * time.Second,
			maxRetries: 3,
			retryDelay: 500 * time.Millisecond,
		},
		client: &http.Client{},
	}
	for _, o := range opts {
		o(&c.cfg, c)
	}
	return c
}

// --- wire types ---

type wirePort struct {
	Name   string `json:"name"`
	Number int    `json:"port"`
}

type wireResources struct {
	CPU    int `json:"cpu"`
	Memory int `json:"memory"`
	Disk   int `json:"disk"`
}

type createRequest struct {
	Image     string            `json:"image"`
	Public    bool              `json:"public"`
	EnvVars   map[string]string `json:"env_vars,omitempty"`
	Ports     []wirePort        `json:"ports,omitempty"`
	Resources wireResources     `json:"resources"`
	Target    string            `json:"target,omitempty"`
}

type previewLink struct {
	Name   string `json:"name"`
	Number int    `json:"port"`
	URL    string `json:"url"`
}

type workspaceResponse struct {
	ID           string        `json:"id"`
	State        string        `json:"state"`
	PreviewLinks []previewLink `json:"preview_links"`
	CreatedAt    int64         `json:"created_at"`
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type execRequest struct {
	Command string `json:"command"`
	Async   bool   `json:"async"`
}

// --- lagoon.Provider ---

// Create allocates a new workspace. Never retried: a timeout here surfaces
// to the caller rather than risking a second allocation.
func (c *Client) Create(ctx context.Context, spec lagoon.CreateSpec) (lagoon.Instance, error) {
	req := createRequest{
		Image:   spec.Image,
		Public:  spec.Public,
		EnvVars: spec.EnvVars,
		Resources: wireResources{
			CPU:    spec.Resources.CPU,
			Memory: spec.Resources.MemoryGB,
			Disk:   spec.Resources.DiskGB,
		},
		Target: c.cfg.target,
	}
	for _, p := range spec.Ports {
		req.Ports = append(req.Ports, wirePort{Name: p.Name, Number: p.Number})
	}

	body, err := c.do(ctx, http.MethodPost, "/workspaces", req)
	if err != nil {
		return lagoon.Instance{}, err
	}
	return parseWorkspace(body)
}

// Fetch returns the workspace's current state and preview links. Transient
// failures (5xx, timeouts, refused connections) are retried with backoff;
// the read is idempotent.
func (c *Client) Fetch(ctx context.Context, sandboxID string) (lagoon.Instance, error) {
	var lastErr error
	delay := c.cfg.retryDelay

	for attempt := 0; attempt < c.cfg.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return lagoon.Instance{}, ctx.Err()
			}
		}

		body, err := c.do(ctx, http.MethodGet, "/workspaces/"+sandboxID, nil)
		if err == nil {
			return parseWorkspace(body)
		}
		if !isTransient(err) {
			return lagoon.Instance{}, err
		}
		lastErr = err
	}

	return lagoon.Instance{}, fmt.Errorf("workspace api unreachable after %d attempts: %w",
		c.cfg.maxRetries, lastErr)
}

// Start requests a stopped or archived workspace to boot.
func (c *Client) Start(ctx context.Context, sandboxID string) error {
	_, err := c.do(ctx, http.MethodPost, "/workspaces/"+sandboxID+"/start", nil)
	return err
}

// Delete destroys the workspace and its disk.
func (c *Client) Delete(ctx context.Context, sandboxID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/workspaces/"+sandboxID, nil)
	return err
}

// CreateSession opens a named process session inside the workspace.
func (c *Client) CreateSession(ctx context.Context, sandboxID, session string) error {
	_, err := c.do(ctx, http.MethodPost, "/workspaces/"+sandboxID+"/sessions",
		sessionRequest{SessionID: session})
	return err
}

// ExecSession runs a command in an existing session. With async the API
// returns as soon as the process is spawned.
func (c *Client) ExecSession(ctx context.Context, sandboxID, session, command string, async bool) error {
	_, err := c.do(ctx, http.MethodPost,
		"/workspaces/"+sandboxID+"/sessions/"+session+"/exec",
		execRequest{Command: command, Async: async})
	return err
}

// --- transport ---

// do performs one API call and maps status codes to the lagoon error
// taxonomy: 404 → ErrNotFound, 409 → ErrSessionExists, 5xx → serverError
// (transient).
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.apiURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20)) // 4MB limit
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, lagoon.ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("%s %s: %w", method, path, lagoon.ErrSessionExists)
	case resp.StatusCode >= 500:
		return nil, &serverError{code: resp.StatusCode, body: string(respBody)}
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("workspace api returned %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}

func parseWorkspace(body []byte) (lagoon.Instance, error) {
	var ws workspaceResponse
	if err := json.Unmarshal(body, &ws); err != nil {
		return lagoon.Instance{}, fmt.Errorf("parse response: %w", err)
	}

	inst := lagoon.Instance{
		ID:        ws.ID,
		State:     mapState(ws.State),
		Previews:  make(map[string]string, len(ws.PreviewLinks)),
		CreatedAt: ws.CreatedAt,
	}
	for _, link := range ws.PreviewLinks {
		name := link.Name
		if name == "" {
			name = fmt.Sprintf("port-%d", link.Number)
		}
		inst.Previews[name] = link.URL
	}
	return inst, nil
}

// mapState buckets the API's workspace states into lagoon states. Anything
// unrecognized (error, pending-destroy, ...) lands in unknown, which the
// manager treats as not-ready-and-not-startable.
func mapState(s string) lagoon.State {
	switch strings.ToLower(s) {
	case "started", "running":
		return lagoon.StateRunning
	case "stopped":
		return lagoon.StateStopped
	case "archived":
		return lagoon.StateArchived
	default:
		return lagoon.StateUnknown
	}
}

// serverError represents a 5xx response from the workspace API.
type serverError struct {
	code int
	body string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("workspace api returned %d: %s", e.code, e.body)
}

// isTransient reports whether err is a transient network/server error
// that should be retried.
func isTransient(err error) bool {
	var se *serverError
	if errors.As(err, &se) {
		return true
	}
	// net/http wraps network errors, check for timeout.
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// Connection refused, reset, etc.
	errMsg := err.Error()
	return strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "connection reset") ||
		strings.Contains(errMsg, "EOF")
}
