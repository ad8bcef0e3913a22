// Copyright 2024-2026 Aiku AI

package rtm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultAPIURL is the production Web API base URL.
const DefaultAPIURL = "https://slack.com/api"

// maxResponseSize bounds how much of an API response body is read (16 MB).
const maxResponseSize = 16 << 20

// APIError is a Web API call that came back with ok:false. Payload carries
// the full structured error body so callers can hand it downstream intact.
type APIError struct {
	Method  string
	Reason  string
	Payload map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %s: %s", e.Method, e.Reason)
}

// APIClient issues Web API calls for a single token. Methods are plain
// strings posted form-encoded to baseURL/<method>.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

// APIOption customizes an APIClient.
type APIOption func(*APIClient)

// WithBaseURL overrides the API base URL. Tests and proxies use this.
func WithBaseURL(u string) APIOption {
	return func(c *APIClient) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) APIOption {
	return func(c *APIClient) { c.httpClient = hc }
}

// WithAPILogger sets the client's logger.
func WithAPILogger(log zerolog.Logger) APIOption {
	return func(c *APIClient) { c.log = log }
}

// NewAPIClient creates a Web API client bound to a token.
func NewAPIClient(token string, opts ...APIOption) *APIClient {
	c := &APIClient{
		baseURL:    DefaultAPIURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes one Web API method. Arguments are coerced through Stringify,
// so nested values arrive as their JSON form. The decoded response map is
// returned even on ok:false, wrapped in an *APIError so the structured
// error body survives.
func (c *APIClient) Call(ctx context.Context, method string, args map[string]any) (map[string]any, error) {
	form := url.Values{}
	form.Set("token", c.token)
	for key, value := range args {
		if value == nil {
			continue
		}
		form.Set(key, Stringify(value))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}

	if ok, _ := payload["ok"].(bool); !ok {
		reason, _ := payload["error"].(string)
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		c.log.Debug().Str("method", method).Str("reason", reason).Msg("API call rejected")
		return payload, &APIError{Method: method, Reason: reason, Payload: payload}
	}
	return payload, nil
}
