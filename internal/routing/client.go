package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lox/holdemgrid/internal/httpx"
)

// ErrUnavailable indicates the routing authority could not be reached.
var ErrUnavailable = errors.New("routing: authority unavailable")

// APIError is an error response from the authority. It matches the routing
// sentinel errors with errors.Is.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("routing: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target != nil && errorForCode(e.Code) == target
}

// Client talks to the authority's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the authority at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Register(ctx context.Context, info ServerInfo) (ServerInfo, error) {
	var out ServerInfo
	err := c.do(ctx, http.MethodPost, "/v1/servers", info, &out)
	return out, err
}

func (c *Client) Unregister(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/servers/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Heartbeat(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/servers/"+url.PathEscape(id)+"/heartbeat", nil, nil)
}

func (c *Client) UpdateMetrics(ctx context.Context, id string, m Metrics) error {
	return c.do(ctx, http.MethodPut, "/v1/servers/"+url.PathEscape(id)+"/metrics", m, nil)
}

func (c *Client) SetStatus(ctx context.Context, id string, status Status) error {
	return c.do(ctx, http.MethodPut, "/v1/servers/"+url.PathEscape(id)+"/status", StatusRequest{Status: status}, nil)
}

func (c *Client) Servers(ctx context.Context) ([]ServerInfo, error) {
	var out []ServerInfo
	err := c.do(ctx, http.MethodGet, "/v1/servers", nil, &out)
	return out, err
}

// Route asks where playerID should connect. An empty playerID picks the
// least loaded server.
func (c *Client) Route(ctx context.Context, playerID string, criteria Criteria) (ServerInfo, error) {
	q := url.Values{}
	if playerID != "" {
		q.Set("player", playerID)
	}
	if criteria.Region != "" {
		q.Set("region", criteria.Region)
	}
	if criteria.MaxLatency > 0 {
		q.Set("maxLatencyMs", strconv.FormatInt(criteria.MaxLatency.Milliseconds(), 10))
	}
	if criteria.MinFreeTables > 0 {
		q.Set("minFreeTables", strconv.Itoa(criteria.MinFreeTables))
	}
	path := "/v1/route"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out ServerInfo
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	limited := io.LimitReader(resp.Body, 1<<20)

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var eb httpx.ErrorBody
		if err := json.NewDecoder(limited).Decode(&eb); err == nil {
			apiErr.Code, apiErr.Message = eb.Code, eb.Message
		}
		if resp.StatusCode >= 500 && resp.StatusCode != http.StatusServiceUnavailable {
			return fmt.Errorf("%w: %v", ErrUnavailable, apiErr)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
