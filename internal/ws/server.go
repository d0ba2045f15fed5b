package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hf1860/console/internal/config"
	"github.com/hf1860/console/internal/console"
	"github.com/hf1860/console/internal/device"
	"github.com/hf1860/console/internal/diag"
	"github.com/hf1860/console/internal/frame"
	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/sdk"
	"github.com/hf1860/console/internal/session"
)

// Controller is the set of operator intents the HTTP surface exposes.
type Controller interface {
	StateSource
	Search() error
	Select(id string) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Toggle(ctx context.Context) error
	StartLiveView(ctx context.Context) error
	StopLiveView(ctx context.Context) error
	OutputDelay() (int, error)
	RefreshOutputDelay() (int, error)
	SetOutputDelay(ms int) error
	OutputEvents() ([]sdk.OutputEvent, error)
	Frames() *frame.Sink
}

type Server struct {
	controller     Controller
	broadcaster    *Broadcaster
	health         *diag.Reporter
	logger         zerolog.Logger
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	jobID, pin     int
}

func NewServer(cfg *config.Config, controller Controller, broadcaster *Broadcaster, health *diag.Reporter) *Server {
	s := &Server{
		controller:     controller,
		broadcaster:    broadcaster,
		health:         health,
		logger:         clog.WithComponent("http"),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		jobID:          cfg.Device.JobID,
		pin:            cfg.Device.PinIndex,
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /api/state", s.authorized(s.handleState))
	mux.HandleFunc("GET /api/devices", s.authorized(s.handleDevices))
	mux.HandleFunc("POST /api/search", s.authorized(s.handleSearch))
	mux.HandleFunc("POST /api/select", s.authorized(s.handleSelect))
	mux.HandleFunc("POST /api/connect", s.authorized(s.handleConnect))
	mux.HandleFunc("POST /api/disconnect", s.authorized(s.handleDisconnect))
	mux.HandleFunc("POST /api/toggle", s.authorized(s.handleToggle))
	mux.HandleFunc("POST /api/liveview", s.authorized(s.handleLiveView))
	mux.HandleFunc("GET /api/delay", s.authorized(s.handleGetDelay))
	mux.HandleFunc("PUT /api/delay", s.authorized(s.handleSetDelay))
	mux.HandleFunc("GET /api/output-events", s.authorized(s.handleOutputEvents))
	mux.HandleFunc("GET /api/frame.png", s.authorized(s.handleFrame))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the full route set wrapped in the security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorized(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		fn(w, r)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade")
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		s.logger.Warn().Str("remote", r.RemoteAddr).Msg("rejecting ws client: limit reached")
		return
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client connected")

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Info().Str("remote", r.RemoteAddr).Msg("WebSocket client disconnected")
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req ClientRequest
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			if req.Type == RequestResync {
				s.broadcaster.SendSnapshot(c)
			}
		}
	}()
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.State())
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.State().Devices)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.controller.Search())
}

type selectRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.respond(w, s.controller.Select(req.ID))
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.controller.Connect(r.Context()))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.controller.Disconnect(r.Context()))
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.controller.Toggle(r.Context()))
}

type liveViewRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleLiveView(w http.ResponseWriter, r *http.Request) {
	var req liveViewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.On {
		s.respond(w, s.controller.StartLiveView(r.Context()))
		return
	}
	s.respond(w, s.controller.StopLiveView(r.Context()))
}

type delayBody struct {
	MS int `json:"ms"`
}

func (s *Server) handleGetDelay(w http.ResponseWriter, r *http.Request) {
	read := s.controller.OutputDelay
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		read = s.controller.RefreshOutputDelay
	}
	ms, err := read()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, delayBody{MS: ms})
}

func (s *Server) handleSetDelay(w http.ResponseWriter, r *http.Request) {
	var req delayBody
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.controller.SetOutputDelay(req.MS); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type outputEventsResponse struct {
	JobID    int      `json:"jobId"`
	PinIndex int      `json:"pinIndex"`
	Events   []string `json:"events"`
}

func (s *Server) handleOutputEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.controller.OutputEvents()
	if err != nil {
		writeError(w, err)
		return
	}
	resp := outputEventsResponse{JobID: s.jobID, PinIndex: s.pin, Events: make([]string, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, ev.String())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	data, info, ok, err := s.controller.Frames().PNG()
	if err != nil {
		s.logger.Warn().Err(err).Msg("encode frame")
		http.Error(w, "frame encode failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(info.Seq, 10))
	w.Header().Set("X-Frame-Device", info.Device)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Health())
}

// respond writes 204 for a nil error.
func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusFor maps console errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, device.ErrNoDeviceSelected),
		errors.Is(err, device.ErrUnknownDevice),
		errors.Is(err, session.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrReentrant):
		return http.StatusConflict
	case errors.Is(err, session.ErrConnectionFailed),
		errors.Is(err, session.ErrDisconnectionFailed),
		errors.Is(err, session.ErrLiveViewFailed),
		errors.Is(err, session.ErrOutputDelayFailed),
		errors.Is(err, session.ErrOutputEventFailed),
		errors.Is(err, console.ErrSearchFailed):
		return http.StatusBadGateway
	case errors.Is(err, console.ErrInitializationFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), ErrorPayload{
		Code:    console.ErrorCode(err),
		Message: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<12)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorPayload{
			Code:    "bad_request",
			Message: fmt.Sprintf("invalid body: %v", err),
		})
		return false
	}
	return true
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Console-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// Serve runs an HTTP server on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger := clog.WithComponent("http")

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}
