package connection

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
	"time"

	"github.com/yndnr/pksa-go/internal/infra/buildinfo"
	"github.com/yndnr/pksa-go/internal/server/httpserver/handler"
)

// DefaultTimeout bounds every admin request.
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx reply from the admin API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("admin api: request failed with status %d", e.Status)
	}
	return fmt.Sprintf("admin api: [%s] %s", e.Code, e.Message)
}

// HTTPClient is a client for the agent admin API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the admin listener at addr. A bare
// host:port gets an http:// scheme; the listener is loopback by default.
func NewHTTPClient(addr string) *HTTPClient {
	baseURL := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
}

// BaseURL returns the base URL of the client.
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with an optional JSON body.
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "pksa-agent/"+buildinfo.Version)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin api unreachable at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

// Health fetches GET /health.
func (c *HTTPClient) Health(ctx context.Context) (*handler.HealthResponse, error) {
	resp, err := c.Get(ctx, "/health")
	if err != nil {
		return nil, err
	}
	var out handler.HealthResponse
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready fetches GET /ready. A not-ready agent is reported through the
// returned body, not as an error.
func (c *HTTPClient) Ready(ctx context.Context) (*handler.HealthResponse, error) {
	resp, err := c.Get(ctx, "/ready")
	if err != nil {
		return nil, err
	}
	var out handler.HealthResponse
	if resp.StatusCode == http.StatusServiceUnavailable {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		return &out, nil
	}
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Accounts fetches GET /v1/accounts.
func (c *HTTPClient) Accounts(ctx context.Context) ([]handler.AccountView, error) {
	resp, err := c.Get(ctx, "/v1/accounts")
	if err != nil {
		return nil, err
	}
	var out struct {
		Accounts []handler.AccountView `json:"accounts"`
	}
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return out.Accounts, nil
}

// RevokeSession revokes one session of account.
func (c *HTTPClient) RevokeSession(ctx context.Context, account, id string) error {
	path := "/v1/accounts/" + url.PathEscape(account) + "/sessions/" + url.PathEscape(id) + "/revoke"
	resp, err := c.Post(ctx, path, nil)
	if err != nil {
		return err
	}
	return ParseResponse(resp, nil)
}

// PruneSessions drops expired sessions and returns how many were removed.
func (c *HTTPClient) PruneSessions(ctx context.Context) (int, error) {
	resp, err := c.Post(ctx, "/v1/sessions/prune", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Pruned int `json:"pruned"`
	}
	if err := ParseResponse(resp, &out); err != nil {
		return 0, err
	}
	return out.Pruned, nil
}

// ParseResponse decodes a JSON response body into target. A status of 400
// or above becomes an *APIError.
func ParseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var body handler.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
			apiErr.Code, apiErr.Message = body.Code, body.Message
		}
		return apiErr
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the admin API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
