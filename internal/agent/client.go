// Package agent provides the HTTP client for the upstream agent's actuator
// info endpoint, along with the error taxonomy the fetch retry loop and the
// drain coordinator branch on.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Fetch failure classification. Wrapped with %w so callers can errors.Is.
var (
	// ErrUnreachable indicates a network-level failure: connection refused,
	// DNS failure, timeout before any response.
	ErrUnreachable = errors.New("upstream unreachable")

	// ErrBadStatus indicates the upstream answered with a non-2xx status.
	ErrBadStatus = errors.New("upstream returned error status")

	// ErrMalformed indicates the response body was not the expected JSON
	// document. Treated as a fetch failure, not a translation failure.
	ErrMalformed = errors.New("malformed upstream payload")
)

// Default client settings, matching the upstream contract.
const (
	DefaultEndpoint       = "http://localhost:8080/actuator/info"
	DefaultRequestTimeout = 10 * time.Second
)

// Info is the upstream agent's info document. All fields are optional;
// the exposition renderer substitutes defaults for anything absent.
type Info struct {
	BuildInfo BuildInfo `json:"buildInfo"`

	// AgentStatus is the literal run-state string; "RUNNING" is the only
	// value that maps to an up status.
	AgentStatus string `json:"agentStatus"`

	// Counts are kept as json.Number so integer and fractional values
	// alike survive to the exposition text unmangled.
	ActiveTaskCount    json.Number `json:"activeTaskCount"`
	ActiveRequestCount json.Number `json:"activeRequestCount"`
	OpenSessionsCount  json.Number `json:"openSessionsCount"`
}

// BuildInfo carries build provenance. BuildTimestamp is declared as any
// because upstream agents have shipped it both as a number and a string.
type BuildInfo struct {
	Version        string `json:"version"`
	CommitHash     string `json:"commitHash"`
	BuildTimestamp any    `json:"buildTimestamp"`
}

// Client fetches the agent info document over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Client for the given endpoint URL. requestTimeout bounds each
// individual request; non-positive values fall back to the default.
func New(endpoint string, requestTimeout time.Duration, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// Endpoint returns the configured upstream URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// FetchInfo retrieves and decodes the agent info document. Failures are
// classified as ErrUnreachable, ErrBadStatus, or ErrMalformed.
func (c *Client) FetchInfo(ctx context.Context) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain the body so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var info Info
	if err := dec.Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	c.logger.Debug("fetched agent info", "endpoint", c.endpoint, "status", info.AgentStatus)
	return &info, nil
}

// Ping probes the upstream endpoint directly, bypassing any caching or
// circuit breaking. It returns nil while the upstream answers 200, ErrBadStatus
// for any other status, and ErrUnreachable for network-level failures. The
// drain coordinator uses this to decide when the agent has gone away.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}
	return nil
}
