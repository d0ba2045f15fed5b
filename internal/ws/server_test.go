package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hf1860/console/internal/config"
	"github.com/hf1860/console/internal/console"
	"github.com/hf1860/console/internal/device"
	"github.com/hf1860/console/internal/diag"
	"github.com/hf1860/console/internal/sdk/sim"
	"github.com/hf1860/console/internal/session"
)

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"X-XSS-Protection":        "1; mode=block",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{device.ErrNoDeviceSelected, http.StatusBadRequest},
		{fmt.Errorf("select: %w", device.ErrUnknownDevice), http.StatusBadRequest},
		{session.ErrInvalidRange, http.StatusBadRequest},
		{session.ErrNotConnected, http.StatusConflict},
		{session.ErrConnectionFailed, http.StatusBadGateway},
		{session.ErrDisconnectionFailed, http.StatusBadGateway},
		{session.ErrLiveViewFailed, http.StatusBadGateway},
		{session.ErrOutputDelayFailed, http.StatusBadGateway},
		{console.ErrInitializationFailed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAuthorize(t *testing.T) {
	cfg := config.Default()
	cfg.Server.AuthToken = "secret"
	s := NewServer(cfg, nil, nil, nil)

	tests := []struct {
		name   string
		mutate func(*http.Request)
		want   bool
	}{
		{"none", func(*http.Request) {}, false},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=secret" }, true},
		{"header", func(r *http.Request) { r.Header.Set("X-Console-Token", "secret") }, true},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, true},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
			tt.mutate(req)
			assert.Equal(t, tt.want, s.authorize(req))
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	open := NewServer(config.Default(), nil, nil, nil)

	restricted := config.Default()
	restricted.Server.AllowedOrigins = []string{"https://console.example.com"}
	locked := NewServer(restricted, nil, nil, nil)

	tests := []struct {
		name   string
		server *Server
		origin string
		want   bool
	}{
		{"no origin", open, "", true},
		{"localhost", open, "http://localhost:5173", true},
		{"loopback", open, "http://127.0.0.1:8080", true},
		{"foreign", open, "https://evil.example.com", false},
		{"allowed", locked, "https://console.example.com", true},
		{"not allowed", locked, "http://localhost:5173", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, tt.server.checkOrigin(req))
		})
	}
}

type testEnv struct {
	srv     *httptest.Server
	console *console.Console
	b       *Broadcaster
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Device.LiveViewSettle = 0
	cfg.Device.AutoStream = false
	cfg.Device.AutoSearch = false
	cfg.Sim.DiscoveryDelay = 0
	cfg.Sim.FrameInterval = 10 * time.Millisecond
	cfg.Sim.DecodeInterval = time.Hour
	cfg.Broadcast.Throttle = 5 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	c := console.New(sim.New(cfg.Sim), cfg)
	b := NewBroadcaster(c, cfg.Broadcast.Throttle, time.Hour, cfg.Broadcast.MaxClients)
	c.AddDisplay(b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()

	srv := httptest.NewServer(NewServer(cfg, c, b, diag.NewReporter()).Handler())
	t.Cleanup(func() {
		srv.Close()
		b.Stop()
		c.Close()
		cancel()
		<-done
	})
	return &testEnv{srv: srv, console: c, b: b}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, r)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestOperatorFlowOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.console.Init())

	resp := env.do(t, http.MethodPost, "/api/connect", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_device_selected", decodeJSON[ErrorPayload](t, resp).Code)

	resp = env.do(t, http.MethodPost, "/api/search", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool {
		return len(env.console.State().Devices.IDs) == 2
	}, 2*time.Second, 5*time.Millisecond)

	resp = env.do(t, http.MethodGet, "/api/devices", "")
	devices := decodeJSON[console.Devices](t, resp)
	assert.Equal(t, []string{"SN1", "SN2"}, devices.IDs)

	resp = env.do(t, http.MethodPost, "/api/select", `{"id":"SN9"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/select", `{"id":"SN1"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPut, "/api/delay", `{"ms":100}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/toggle", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/state", "")
	state := decodeJSON[console.State](t, resp)
	assert.Equal(t, session.Connected, state.Session.State)
	assert.Equal(t, "SN1", state.Session.Device)

	resp = env.do(t, http.MethodPut, "/api/delay", `{"ms":5001}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodPut, "/api/delay", `{"ms":5000}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/delay?refresh=true", "")
	assert.Equal(t, 5000, decodeJSON[delayBody](t, resp).MS)

	resp = env.do(t, http.MethodGet, "/api/output-events", "")
	events := decodeJSON[outputEventsResponse](t, resp)
	assert.Equal(t, 1, events.PinIndex)
	assert.Equal(t, []string{"decode_success", "match"}, events.Events)

	resp = env.do(t, http.MethodGet, "/api/frame.png", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/liveview", `{"on":true}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Eventually(t, func() bool {
		return env.console.State().Frame != nil
	}, 2*time.Second, 5*time.Millisecond)

	resp = env.do(t, http.MethodGet, "/api/frame.png", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "SN1", resp.Header.Get("X-Frame-Device"))

	resp = env.do(t, http.MethodPost, "/api/disconnect", "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, session.Disconnected, env.console.State().Session.State)
}

func TestBadBody(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(t, http.MethodPost, "/api/select", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", decodeJSON[ErrorPayload](t, resp).Code)
}

func TestInitFailureMapsTo503(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Sim.FailInit = true })
	require.Error(t, env.console.Init())

	resp := env.do(t, http.MethodPost, "/api/search", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestTokenRequired(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Server.AuthToken = "secret" })

	resp := env.do(t, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/state?token=secret", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health and metrics stay open for probes.
	resp = env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketResync(t *testing.T) {
	env := newTestEnv(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	require.Equal(t, MsgSnapshot, first.Type)

	require.NoError(t, conn.WriteJSON(ClientRequest{Type: RequestResync}))
	second := readMessage(t, conn)
	assert.Equal(t, MsgSnapshot, second.Type)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestWebSocketCarriesConsoleEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.console.Init())

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(env.srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, MsgSnapshot, readMessage(t, conn).Type)

	require.NoError(t, env.console.Search())
	for {
		msg := readMessage(t, conn)
		if msg.Type != MsgDevices {
			continue
		}
		var d console.Devices
		require.NoError(t, json.Unmarshal(msg.Payload, &d))
		if len(d.IDs) == 2 {
			assert.Equal(t, []string{"SN1", "SN2"}, d.IDs)
			return
		}
	}
}
