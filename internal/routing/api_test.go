package routing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T) (*Authority, *Client, *quartz.Mock) {
	t.Helper()
	a, clock := newTestAuthority(t)
	srv := httptest.NewServer(NewHandler(a, quietLogger()))
	t.Cleanup(srv.Close)
	return a, NewClient(srv.URL, srv.Client()), clock
}

func TestClientLifecycle(t *testing.T) {
	t.Parallel()
	a, client, _ := newTestAPI(t)
	ctx := t.Context()

	info, err := client.Register(ctx, ServerInfo{ID: "w1", Address: "10.0.0.1:9000", Region: "eu", MaxTables: 4})
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, info.Status)

	_, err = client.Register(ctx, ServerInfo{ID: "w1", Address: "10.0.0.1:9000"})
	require.ErrorIs(t, err, ErrDuplicateServer)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	require.NoError(t, client.Heartbeat(ctx, "w1"))
	require.NoError(t, client.UpdateMetrics(ctx, "w1", Metrics{Tables: 1, Players: 3, Seated: []string{"alice"}}))
	require.NoError(t, client.SetStatus(ctx, "w1", StatusMaintenance))

	stored, err := a.Server("w1")
	require.NoError(t, err)
	assert.Equal(t, StatusMaintenance, stored.Status)
	assert.Equal(t, 3, stored.Metrics.Players)

	servers, err := client.Servers(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "eu", servers[0].Region)

	_, err = client.Route(ctx, "", Criteria{})
	require.ErrorIs(t, err, ErrNoServerAvailable)

	require.NoError(t, client.SetStatus(ctx, "w1", StatusOnline))
	routed, err := client.Route(ctx, "alice", Criteria{Region: "eu", MaxLatency: time.Second, MinFreeTables: 1})
	require.NoError(t, err)
	assert.Equal(t, "w1", routed.ID)

	require.NoError(t, client.Unregister(ctx, "w1"))
	require.ErrorIs(t, client.Heartbeat(ctx, "w1"), ErrServerNotFound)
	require.ErrorIs(t, client.Unregister(ctx, "w1"), ErrServerNotFound)
}

func TestAPIRejectsBadInput(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAPI(t)
	srv := httptest.NewServer(NewHandler(a, quietLogger()))
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/v1/servers", `{"id":`, http.StatusBadRequest, "invalid_server"},
		{"unknown field", http.MethodPost, "/v1/servers", `{"id":"w1","address":"a:1","bogus":1}`, http.StatusBadRequest, "invalid_server"},
		{"missing address", http.MethodPost, "/v1/servers", `{"id":"w1"}`, http.StatusBadRequest, "invalid_server"},
		{"unknown status", http.MethodPut, "/v1/servers/w1/status", `{"status":"sleeping"}`, http.StatusBadRequest, "invalid_server"},
		{"unknown server", http.MethodPost, "/v1/servers/nope/heartbeat", ``, http.StatusNotFound, "server_not_found"},
		{"bad latency", http.MethodGet, "/v1/route?maxLatencyMs=soon", ``, http.StatusBadRequest, "invalid_server"},
		{"nothing to route to", http.MethodGet, "/v1/route", ``, http.StatusServiceUnavailable, "no_server_available"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequestWithContext(context.Background(), tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			var body struct{ Code string }
			require.NoError(t, decodeBody(resp, &body))
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	a, _, _ := newTestAPI(t)
	srv := httptest.NewServer(NewHandler(a, quietLogger()))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestClientUnavailable(t *testing.T) {
	t.Parallel()
	client := NewClient("http://127.0.0.1:1", nil)
	err := client.Heartbeat(t.Context(), "w1")
	require.ErrorIs(t, err, ErrUnavailable)
}

func decodeBody(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
