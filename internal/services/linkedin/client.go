// Package linkedin publishes posts through the LinkedIn share API.
package linkedin

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
	defaultBaseURL     = "https://api.linkedin.com/v2"
	defaultHTTPTimeout = 30 * time.Second
)

// Client talks to the LinkedIn REST API for one configured account.
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

// NewClient constructs a LinkedIn client from the platform configuration.
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
	return project.PlatformLinkedIn
}

// Publish creates a share post and returns its external identifier. Any
// transport failure, including a timeout, counts as a failed attempt.
func (c *Client) Publish(ctx context.Context, post *project.ScheduledPost) (string, error) {
	if c.accessToken == "" {
		return "", services.Wrap(services.ErrValidation, "linkedin", "publish", "access token required", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", services.Wrap(services.ErrExternal, "linkedin", "publish", "rate limit wait", err)
	}

	body := map[string]any{
		"lifecycleState": "PUBLISHED",
		"visibility":     map[string]string{"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC"},
		"specificContent": map[string]any{
			"com.linkedin.ugc.ShareContent": map[string]any{
				"shareCommentary":    map[string]string{"text": post.Content},
				"shareMediaCategory": "NONE",
			},
		},
	}
	var response struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/ugcPosts", body, &response); err != nil {
		return "", err
	}
	if response.ID == "" {
		return "", services.Wrap(services.ErrExternal, "linkedin", "publish", "response missing post id", nil)
	}
	return response.ID, nil
}

// ValidateCredentials verifies the configured token against the profile endpoint.
func (c *Client) ValidateCredentials(ctx context.Context) error {
	if c.accessToken == "" {
		return services.Wrap(services.ErrValidation, "linkedin", "validate", "access token required", nil)
	}
	return c.doJSON(ctx, http.MethodGet, "/me", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrInvalidOperation, "linkedin", "request", "encode body", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return services.Wrap(services.ErrInvalidOperation, "linkedin", "request", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternal, "linkedin", "request", "http error", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrExternal, "linkedin", "request", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		message := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return services.Wrap(services.ErrValidation, "linkedin", "request", message, nil)
		}
		return services.Wrap(services.ErrExternal, "linkedin", "request", message, nil)
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return services.Wrap(services.ErrExternal, "linkedin", "request", "decode response", err)
	}
	return nil
}
