// Package registry fetches per-version crate metadata from a crates.io
// compatible index over HTTP. It is the deep-scan metadata source: rate
// limited, retried with backoff, and backed by a local SQLite cache so
// repeated scans of the same tree stay off the network.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cratewatch/cratewatch/pkg/core"
	"github.com/cratewatch/cratewatch/pkg/errors"
	"github.com/cratewatch/cratewatch/pkg/graph"
	"github.com/cratewatch/cratewatch/pkg/retry"
	"github.com/cratewatch/cratewatch/pkg/semver"
)

// DefaultBaseURL is the crates.io API root.
const DefaultBaseURL = "https://crates.io/api/v1"

// userAgent identifies us to the registry, which requires a contactable UA.
const userAgent = "cratewatch (github.com/cratewatch/cratewatch)"

// Client fetches crate metadata. It implements graph.MetadataSource and is
// safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *Cache
	logger     core.Logger

	maxRetries int
	backoff    *retry.Config
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL overrides the registry API root. Used by tests and mirrors.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit caps requests per second. crates.io asks for at most one
// request per second from unattended tools, which is the default.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCache attaches a metadata cache. Without one every lookup hits the
// network.
func WithCache(cache *Cache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(logger core.Logger) ClientOption {
	return func(c *Client) {
		c.logger = core.OrNop(logger)
	}
}

// WithMaxRetries caps retry attempts per request.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackoff overrides the retry backoff configuration.
func WithBackoff(cfg *retry.Config) ClientOption {
	return func(c *Client) {
		if cfg != nil {
			c.backoff = cfg
		}
	}
}

// NewClient creates a registry client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		logger:     &core.NopLogger{},
		maxRetries: 3,
		backoff:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// dependenciesResponse mirrors the crates.io dependencies endpoint.
type dependenciesResponse struct {
	Dependencies []struct {
		CrateID  string `json:"crate_id"`
		Req      string `json:"req"`
		Kind     string `json:"kind"`
		Optional bool   `json:"optional"`
	} `json:"dependencies"`
}

// Dependencies returns the dependencies the given crate version declares,
// per the registry's metadata. Cache hits skip the network entirely.
func (c *Client) Dependencies(ctx context.Context, name string, version semver.Version) ([]graph.DeclaredDep, error) {
	const op = "registry.Dependencies"

	key := name + "@" + version.String()
	if c.cache != nil {
		if deps, ok := c.cache.Get(ctx, key); ok {
			c.logger.Debug("registry cache hit for %s", key)
			return deps, nil
		}
	}

	url := fmt.Sprintf("%s/crates/%s/%s/dependencies", c.baseURL, name, version)
	body, err := c.get(ctx, op, url)
	if err != nil {
		return nil, err
	}

	var parsed dependenciesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &errors.Error{Kind: errors.KindNetwork, Op: op,
			Message: "invalid registry response", Input: key, Err: err}
	}

	deps := make([]graph.DeclaredDep, 0, len(parsed.Dependencies))
	for _, d := range parsed.Dependencies {
		deps = append(deps, graph.DeclaredDep{
			Name:        d.CrateID,
			Requirement: d.Req,
			Kind:        edgeKind(d.Kind),
			Optional:    d.Optional,
		})
	}

	if c.cache != nil {
		if err := c.cache.Put(ctx, key, deps); err != nil {
			c.logger.Warn("registry cache write for %s failed: %v", key, err)
		}
	}
	return deps, nil
}

// get performs one rate-limited GET with exponential-backoff retries on
// transient failures. 404 is terminal: the crate version does not exist.
func (c *Client) get(ctx context.Context, op, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff.Interval(attempt)
			c.logger.Debug("retrying %s in %s (attempt %d)", url, backoff, attempt)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &errors.Error{Kind: errors.KindTimeout, Op: op, Message: "registry fetch canceled", Err: ctx.Err()}
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &errors.Error{Kind: errors.KindTimeout, Op: op, Message: "registry fetch canceled", Err: err}
		}

		body, retryable, err := c.getOnce(ctx, op, url)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, op, url string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, &errors.Error{Kind: errors.KindInternal, Op: op, Message: "build request", Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, &errors.Error{Kind: errors.KindNetwork, Op: op, Message: "registry request failed", Input: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &errors.Error{Kind: errors.KindNotFound, Op: op,
			Message: "crate version not found in registry", Input: url}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, &errors.Error{Kind: errors.KindNetwork, Op: op,
			Message: fmt.Sprintf("registry returned %d", resp.StatusCode), Input: url}
	default:
		return nil, false, &errors.Error{Kind: errors.KindNetwork, Op: op,
			Message: fmt.Sprintf("registry returned %d", resp.StatusCode), Input: url}
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, true, &errors.Error{Kind: errors.KindNetwork, Op: op, Message: "read registry response", Input: url, Err: err}
	}
	return body, false, nil
}

// edgeKind maps the registry's dependency kind spelling to ours.
func edgeKind(s string) graph.EdgeKind {
	switch s {
	case "dev":
		return graph.EdgeDev
	case "build":
		return graph.EdgeBuild
	default:
		return graph.EdgeNormal
	}
}
