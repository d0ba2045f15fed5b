package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// HTTPClient makes REST calls to the console daemon.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	frames  *rate.Limiter
}

// NewHTTPClient creates a client targeting the given base URL (e.g.
// "http://127.0.0.1:8080"). Frame fetches are limited to fps per second.
func NewHTTPClient(baseURL, token string, fps float64) *HTTPClient {
	limit := rate.Inf
	if fps > 0 {
		limit = rate.Limit(fps)
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		frames:  rate.NewLimiter(limit, 1),
	}
}

func (c *HTTPClient) State(ctx context.Context) (*SnapshotPayload, error) {
	var s SnapshotPayload
	if err := c.get(ctx, "/api/state", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *HTTPClient) Search(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/search", nil, nil)
}

func (c *HTTPClient) Select(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodPost, "/api/select", map[string]string{"id": id}, nil)
}

func (c *HTTPClient) Connect(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/connect", nil, nil)
}

func (c *HTTPClient) Disconnect(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/disconnect", nil, nil)
}

func (c *HTTPClient) Toggle(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/toggle", nil, nil)
}

func (c *HTTPClient) LiveView(ctx context.Context, on bool) error {
	return c.send(ctx, http.MethodPost, "/api/liveview", map[string]bool{"on": on}, nil)
}

// Delay reads the output delay; refresh forces a read from the device.
func (c *HTTPClient) Delay(ctx context.Context, refresh bool) (int, error) {
	path := "/api/delay"
	if refresh {
		path += "?refresh=true"
	}
	var out DelayResponse
	if err := c.get(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.MS, nil
}

func (c *HTTPClient) SetDelay(ctx context.Context, ms int) (int, error) {
	var out DelayResponse
	if err := c.send(ctx, http.MethodPut, "/api/delay", DelayResponse{MS: ms}, &out); err != nil {
		return 0, err
	}
	return out.MS, nil
}

func (c *HTTPClient) OutputEvents(ctx context.Context) (*OutputEvents, error) {
	var out OutputEvents
	if err := c.get(ctx, "/api/output-events", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Frame fetches the latest frame as PNG, waiting on the frame rate limit
// first. It returns nil when the daemon has no frame.
func (c *HTTPClient) Frame(ctx context.Context) (*Frame, error) {
	if err := c.frames.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := c.request(ctx, http.MethodGet, "/api/frame.png", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, readError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	seq, _ := strconv.ParseUint(resp.Header.Get("X-Frame-Seq"), 10, 64)
	return &Frame{Seq: seq, Device: resp.Header.Get("X-Frame-Device"), PNG: data}, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out interface{}) error {
	return c.send(ctx, http.MethodGet, path, nil, out)
}

func (c *HTTPClient) send(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := c.request(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readError(resp)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) request(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)
	return req, nil
}

func (c *HTTPClient) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{Status: resp.StatusCode}
	var payload ErrorPayload
	if json.Unmarshal(data, &payload) == nil && payload.Message != "" {
		apiErr.Code = payload.Code
		apiErr.Message = payload.Message
	} else {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}

// DeriveHTTPBase converts ws://host:port/ws to http://host:port.
func DeriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:8080"
	}
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host)
}
