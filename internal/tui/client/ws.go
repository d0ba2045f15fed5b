package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	clog "github.com/hf1860/console/internal/log"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var errNotConnected = errors.New("not connected")

// WSClient manages the WebSocket connection to the console daemon.
type WSClient struct {
	url   string
	token string

	mu       sync.Mutex
	writeMu  sync.Mutex // serialises conn writes
	conn     *websocket.Conn
	seq      uint64
	stopPing context.CancelFunc
}

// NewWSClient creates a client that connects to the given WebSocket URL.
func NewWSClient(url, token string) *WSClient {
	return &WSClient{url: url, token: token}
}

// --- Bubble Tea messages ---

type WSConnectedMsg struct{}

type WSDisconnectedMsg struct{ Err error }

type WSSnapshotMsg struct{ Payload SnapshotPayload }

type WSDevicesMsg struct{ Payload Devices }

type WSSessionMsg struct{ Payload Session }

type WSDecodeMsg struct{ Payload DecodePayload }

// WSFrameMsg announces a new frame; fetch it with HTTPClient.Frame.
type WSFrameMsg struct{ Payload FrameInfo }

type WSNoticeMsg struct{ Payload Notice }

type WSErrorMsg struct{ Payload ErrorPayload }

// Listen returns a Bubble Tea command that connects with exponential
// backoff. It yields WSConnectedMsg, or nil once ctx is done.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		conn, err := c.dial(ctx)
		if err != nil {
			return nil
		}
		c.attach(ctx, conn)
		return WSConnectedMsg{}
	}
}

// dial retries until a connection is up or ctx is done.
func (c *WSClient) dial(ctx context.Context) (*websocket.Conn, error) {
	logger := clog.WithComponent("tui.ws")
	header := http.Header{}
	if c.token != "" {
		header.Set("X-Console-Token", c.token)
	}
	backoff := reconnectBaseDelay
	for {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
		if err == nil {
			logger.Info().Str("url", c.url).Msg("ws connected")
			return conn, nil
		}
		logger.Debug().Err(err).Dur("retry_in", backoff).Msg("ws dial failed")
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, reconnectMaxDelay)
	}
}

// attach makes conn current and starts its keepalive.
func (c *WSClient) attach(ctx context.Context, conn *websocket.Conn) {
	keepalive, stop := context.WithCancel(ctx)

	c.mu.Lock()
	if c.stopPing != nil {
		c.stopPing()
	}
	c.conn = conn
	c.seq = 0
	c.stopPing = stop
	c.mu.Unlock()

	go c.pingLoop(keepalive, conn)
}

// ReadLoop returns a Bubble Tea command that reads until one message can
// be delivered. Start it after WSConnectedMsg and again after every
// delivered message.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: errNotConnected}
		}

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongTimeout))
		})
		_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.drop(conn)
				return WSDisconnectedMsg{Err: err}
			}

			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}

			c.mu.Lock()
			c.seq = msg.Seq
			c.mu.Unlock()

			if teaMsg := decodeMessage(msg); teaMsg != nil {
				return teaMsg
			}
		}
	}
}

// Close drops the current connection, if any.
func (c *WSClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.drop(conn)
	}
}

func (c *WSClient) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		if c.stopPing != nil {
			c.stopPing()
			c.stopPing = nil
		}
	}
	c.mu.Unlock()
	_ = conn.Close()
}

// pingLoop sends periodic pings on conn until ctx is cancelled or the
// connection is replaced.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Resync asks the daemon for a fresh snapshot.
func (c *WSClient) Resync() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(map[string]string{"type": "resync"})
}

// Seq returns the last seen sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func decodeMessage(msg WSMessage) tea.Msg {
	switch msg.Type {
	case MsgSnapshot:
		var p SnapshotPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSSnapshotMsg{Payload: p}
		}
	case MsgDevices:
		var p Devices
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSDevicesMsg{Payload: p}
		}
	case MsgSession:
		var p Session
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSSessionMsg{Payload: p}
		}
	case MsgDecode:
		var p DecodePayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSDecodeMsg{Payload: p}
		}
	case MsgFrame:
		var p FrameInfo
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSFrameMsg{Payload: p}
		}
	case MsgNotice:
		var p Notice
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSNoticeMsg{Payload: p}
		}
	case MsgError:
		var p ErrorPayload
		if json.Unmarshal(msg.Payload, &p) == nil {
			return WSErrorMsg{Payload: p}
		}
	}
	return nil
}
