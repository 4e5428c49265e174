package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/dnsrest/pkg/events"
	"github.com/cuemby/dnsrest/pkg/metrics"
	"github.com/cuemby/dnsrest/pkg/registry"
	"github.com/cuemby/dnsrest/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestContainerMappings(t *testing.T) {
	reg := registry.New()
	h := NewServer(reg, nil).Handler()

	w, body := do(t, h, http.MethodPut, "/container/name/web", `{"domains":["App.Example.com.","*.web.local"]}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["code"])

	w, body = do(t, h, http.MethodGet, "/container/name/web", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"app.example.com", "*.web.local"}, body["record"])

	reg.Activate(types.Container{ID: "c1", Name: "web", Running: true, Addr: "10.0.0.5"})
	assert.Equal(t, []string{"10.0.0.5"}, reg.Resolve("app.example.com"))
	assert.Equal(t, []string{"10.0.0.5"}, reg.Resolve("x.web.local"))

	w, _ = do(t, h, http.MethodDelete, "/container/name/web", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, reg.Resolve("app.example.com"))

	_, body = do(t, h, http.MethodGet, "/container/name/web", "")
	assert.Equal(t, []any{}, body["record"])
}

func TestContainerByID(t *testing.T) {
	reg := registry.New()
	h := NewServer(reg, nil).Handler()

	w, _ := do(t, h, http.MethodPut, "/container/id/c1", `{"domains":["db.example.com"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"db.example.com"}, reg.Get("id:/c1"))
}

func TestContainerValidation(t *testing.T) {
	h := NewServer(registry.New(), nil).Handler()

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		message string
	}{
		{name: "unsupported label", method: http.MethodGet, path: "/container/image/web", message: "unsupported label"},
		{name: "invalid json", method: http.MethodPut, path: "/container/name/web", body: `{`, message: "invalid JSON"},
		{name: "not an object", method: http.MethodPut, path: "/container/name/web", body: `["a.com"]`, message: "invalid JSON"},
		{name: "missing domains", method: http.MethodPut, path: "/container/name/web", body: `{}`, message: "domains"},
		{name: "domains not a list", method: http.MethodPut, path: "/container/name/web", body: `{"domains":"a.com"}`, message: "invalid JSON"},
		{name: "invalid domain", method: http.MethodPut, path: "/container/name/web", body: `{"domains":["a..com"]}`, message: "parsing failed"},
		{name: "empty domain", method: http.MethodPut, path: "/container/name/web", body: `{"domains":[""]}`, message: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, float64(1), body["code"])
			assert.Contains(t, body["message"], tt.message)
		})
	}
}

func TestStaticDomains(t *testing.T) {
	reg := registry.New()
	h := NewServer(reg, nil).Handler()

	w, _ := do(t, h, http.MethodPut, "/domain/static.example.com", `{"ips":["1.2.3.4","1.2.3.5"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"1.2.3.4", "1.2.3.5"}, reg.Resolve("static.example.com"))

	_, body := do(t, h, http.MethodGet, "/domain/static.example.com", "")
	assert.Equal(t, []any{"1.2.3.4", "1.2.3.5"}, body["record"])

	w, _ = do(t, h, http.MethodDelete, "/domain/static.example.com", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, reg.Resolve("static.example.com"))
}

func TestStaticDomainValidation(t *testing.T) {
	reg := registry.New()
	h := NewServer(reg, nil).Handler()

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "missing ips", path: "/domain/a.example.com", body: `{}`},
		{name: "ipv6 address", path: "/domain/a.example.com", body: `{"ips":["::1"]}`},
		{name: "bad address", path: "/domain/a.example.com", body: `{"ips":["1.2.3.4","nope"]}`},
		{name: "bad domain", path: "/domain/a..example.com", body: `{"ips":["1.2.3.4"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := do(t, h, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, float64(1), body["code"])
		})
	}

	// A rejected batch publishes nothing
	assert.Nil(t, reg.Resolve("a.example.com"))
}

func TestDebug(t *testing.T) {
	reg := registry.New()
	reg.ActivateStatic("static.example.com", "1.2.3.4")
	h := NewServer(reg, nil).Handler()

	w, body := do(t, h, http.MethodGet, "/debug", "")
	assert.Equal(t, http.StatusOK, w.Code)

	want, err := reg.Dump()
	require.NoError(t, err)
	assert.JSONEq(t, string(want), w.Body.String())
	assert.Contains(t, body, "com")
}

func TestHealthAndMetrics(t *testing.T) {
	health := metrics.NewHealthChecker("test", metrics.ComponentDNS)
	h := NewServer(registry.New(), &Config{Health: health}).Handler()

	w, _ := do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	health.UpdateComponent(metrics.ComponentDNS, true, "")
	w, _ = do(t, h, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])

	w, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dnsrest_api_requests_total")
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewServer(registry.New(), nil).Handler()
	w, _ := do(t, h, http.MethodPost, "/domain/a.example.com", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestEventsDisabled(t *testing.T) {
	h := NewServer(registry.New(), nil).Handler()
	w, _ := do(t, h, http.MethodGet, "/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServeAndStreamEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	s := NewServer(registry.New(), &Config{ListenAddr: "127.0.0.1:0", Broker: broker})
	require.NoError(t, s.Listen())
	base := "http://" + s.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	resp, err := http.Get(base + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	sent := events.New(events.EventContainerStart, types.Container{ID: "c1", Name: "web"})
	broker.Publish(sent)

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	require.NoError(t, err)
	var got events.Event
	require.NoError(t, json.Unmarshal(line, &got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "web", got.Container.Name)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Nil(t, s.Addr())
}
