package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oxfell/keva/internal/command"
	"github.com/oxfell/keva/internal/metrics"
	"github.com/oxfell/keva/internal/server"
	"github.com/oxfell/keva/internal/store"
)

func newTestWebServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()

	st := store.NewWithConfig(store.Config{SweepInterval: -1})
	t.Cleanup(st.Close)

	registry := prometheus.NewRegistry()
	st.RegisterMetrics(registry)
	m := metrics.New(registry)
	resp := server.New("127.0.0.1:0", command.New(st, m), m)

	return New(":0", st, resp, registry), st
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestWebServer(t)
	handler := s.routes()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthEndpointRejectsPost(t *testing.T) {
	s, _ := newTestWebServer(t)
	handler := s.routes()

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestReadyEndpoint(t *testing.T) {
	s, _ := newTestWebServer(t)
	handler := s.routes()

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
}

func TestStatsEndpoint(t *testing.T) {
	s, st := newTestWebServer(t)
	handler := s.routes()

	st.Set("a", []byte("1"))
	st.Set("b", []byte("2"))
	st.SetWithTTL("c", []byte("3"), 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, _ = st.Get("c") // lazily reclaimed

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Keys)
	assert.Equal(t, int64(1), resp.KeysExpired)
	assert.NotEmpty(t, resp.Version)
	assert.NotEmpty(t, resp.UptimeHuman)
	assert.Greater(t, resp.GoRoutines, 0)
}

func TestMetricsEndpoint(t *testing.T) {
	s, st := newTestWebServer(t)
	handler := s.routes()

	st.Set("a", []byte("1"))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "keva_keys 1")
	assert.Contains(t, body, "keva_connections_active")
}

func TestStartStopsOnContextCancel(t *testing.T) {
	s, _ := newTestWebServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("web server did not stop after context cancellation")
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m 0s"},
		{49*time.Hour + time.Minute, "2d 1h 1m 0s"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, formatDuration(tc.in))
	}
}
