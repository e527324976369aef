package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"outreach-sync-engine/internal/ratelimit"
)

const defaultHTTPTimeout = 30 * time.Second

// apiClient is the shared HTTP plumbing for connectors: one limiter slot per
// request, JSON bodies, and classification of every failure mode.
type apiClient struct {
	platform   string
	baseURL    string
	authHeader string
	authValue  string
	httpClient *http.Client
	limiter    Limiter
}

func newAPIClient(platform, baseURL, authHeader, authValue string, limiter Limiter) *apiClient {
	return &apiClient{
		platform:   platform,
		baseURL:    baseURL,
		authHeader: authHeader,
		authValue:  authValue,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    limiter,
	}
}

// withLimiter returns a copy of the client bound to a different limiter.
// The underlying HTTP client is shared.
func (c *apiClient) withLimiter(l Limiter) *apiClient {
	clone := *c
	clone.limiter = l
	return &clone
}

func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, nil, body, out)
}

func (c *apiClient) putJSON(ctx context.Context, path string, body, out any) error {
	return c.doJSON(ctx, http.MethodPut, path, nil, body, out)
}

func (c *apiClient) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	op := c.platform + " " + method + " " + path

	if err := c.limiter.Acquire(ctx, c.platform, 1); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitTimeout) {
			return &RetryableError{Op: op, Err: err}
		}
		// Context cancellation and configuration errors pass through unclassified.
		return err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Fatalf(op, "encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return Fatalf(op, "build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authHeader != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RetryableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RetryableError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(op, resp.StatusCode, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return Fatalf(op, "malformed response: %v", err)
		}
	}
	return nil
}
