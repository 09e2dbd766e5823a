// Package x publishes posts through the X (Twitter) v2 API.
package x

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"postflow/internal/config"
	"postflow/internal/project"
	"postflow/internal/services"
)

const (
	defaultBaseURL     = "https://api.twitter.com/2"
	defaultHTTPTimeout = 30 * time.Second

	// MaxPostLength is the hard character cap enforced by the platform.
	MaxPostLength = 280
)

// Client talks to the X v2 API for one configured account.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an X client from the platform configuration.
func NewClient(cfg config.Platform, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	client := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: strings.TrimSpace(cfg.AccessToken),
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Platform identifies which destination this client publishes to.
func (c *Client) Platform() project.Platform {
	return project.PlatformX
}

// Publish creates a tweet and returns its external identifier. Content over
// the platform cap is rejected before any network call.
func (c *Client) Publish(ctx context.Context, post *project.ScheduledPost) (string, error) {
	if c.accessToken == "" {
		return "", services.Wrap(services.ErrValidation, "x", "publish", "access token required", nil)
	}
	if length := len([]rune(post.Content)); length > MaxPostLength {
		return "", services.Wrap(services.ErrValidation, "x", "publish",
			fmt.Sprintf("content length %d exceeds cap %d", length, MaxPostLength), nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", services.Wrap(services.ErrExternal, "x", "publish", "rate limit wait", err)
	}

	body := map[string]string{"text": post.Content}
	var response struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/tweets", body, &response); err != nil {
		return "", err
	}
	if response.Data.ID == "" {
		return "", services.Wrap(services.ErrExternal, "x", "publish", "response missing tweet id", nil)
	}
	return response.Data.ID, nil
}

// ValidateCredentials verifies the configured token against the users endpoint.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	if c.accessToken == "" {
		return services.Wrap(services.ErrValidation, "x", "validate", "access token required", nil)
	}
	return c.doJSON(ctx, http.MethodGet, "/users/me", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrInvalidOperation, "x", "request", "encode body", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return services.Wrap(services.ErrInvalidOperation, "x", "request", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternal, "x", "request", "http error", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrExternal, "x", "request", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		message := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return services.Wrap(services.ErrValidation, "x", "request", message, nil)
		}
		return services.Wrap(services.ErrExternal, "x", "request", message, nil)
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return services.Wrap(services.ErrExternal, "x", "request", "decode response", err)
	}
	return nil
}
