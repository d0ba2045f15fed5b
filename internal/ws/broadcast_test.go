package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hf1860/console/internal/console"
	"github.com/hf1860/console/internal/decode"
	"github.com/hf1860/console/internal/session"
)

type staticSource struct {
	state console.State
}

func (s staticSource) State() console.State { return s.state }

// dialTestWS creates a test HTTP server that upgrades to WebSocket and returns
// the server-side connection. The caller must close both the server and the
// returned connection.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	// We only need the server-side conn for AddClient; close the client side later.
	_ = clientConn.Close()

	select {
	case serverConn := <-connCh:
		return srv, serverConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

// attachClient registers a live client with b and returns the client side
// of the connection.
func attachClient(t *testing.T, b *Broadcaster) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		if _, err := b.AddClient(c); err != nil {
			t.Errorf("AddClient: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) InboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg InboundMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestNewClientReceivesSnapshot(t *testing.T) {
	src := staticSource{state: console.State{Initialized: true, Log: []string{"abc"}}}
	b := NewBroadcaster(src, 10*time.Millisecond, time.Hour, 0)
	defer b.Stop()

	conn := attachClient(t, b)
	msg := readMessage(t, conn)
	assert.Equal(t, MsgSnapshot, msg.Type)

	var state console.State
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.True(t, state.Initialized)
	assert.Equal(t, []string{"abc"}, state.Log)
}

func TestDeltasAreCoalescedAndSequenced(t *testing.T) {
	b := NewBroadcaster(staticSource{}, 20*time.Millisecond, time.Hour, 0)
	defer b.Stop()

	conn := attachClient(t, b)
	snap := readMessage(t, conn)

	b.SessionChanged(session.Snapshot{State: session.Connecting})
	b.SessionChanged(session.Snapshot{State: session.Connected, Device: "SN1"})
	b.DecodeRecorded(decode.Record{Seq: 1, Code: "A", Verdict: decode.Fail})
	b.DecodeRecorded(decode.Record{Seq: 2, Code: "B", Verdict: decode.Pass})
	b.Notice(console.Notice{Level: console.LevelInfo, Code: "connected", Text: "Connected to SN1"})

	session1 := readMessage(t, conn)
	require.Equal(t, MsgSession, session1.Type)
	var snapPayload session.Snapshot
	require.NoError(t, json.Unmarshal(session1.Payload, &snapPayload))
	assert.Equal(t, session.Connected, snapPayload.State, "only the latest session snapshot is sent")

	decodes := readMessage(t, conn)
	require.Equal(t, MsgDecode, decodes.Type)
	var dp DecodePayload
	require.NoError(t, json.Unmarshal(decodes.Payload, &dp))
	require.Len(t, dp.Records, 2, "decode records are never coalesced")
	assert.Equal(t, "A", dp.Records[0].Code)

	notice := readMessage(t, conn)
	require.Equal(t, MsgNotice, notice.Type)

	assert.Less(t, snap.Seq, session1.Seq)
	assert.Less(t, session1.Seq, decodes.Seq)
	assert.Less(t, decodes.Seq, notice.Seq)
}

func TestAddClient_MaxConnections(t *testing.T) {
	const maxConns = 2
	b := NewBroadcaster(staticSource{}, 100*time.Millisecond, time.Hour, maxConns)
	defer b.Stop()

	for i := 0; i < maxConns; i++ {
		attachClient(t, b)
	}
	require.Eventually(t, func() bool { return b.ClientCount() == maxConns }, 2*time.Second, 10*time.Millisecond)

	srv, conn := dialTestWS(t)
	defer srv.Close()
	defer conn.Close()
	_, err := b.AddClient(conn)
	assert.True(t, errors.Is(err, ErrTooManyClients), "got %v", err)
	assert.Equal(t, maxConns, b.ClientCount())
}

// TestWritePump_RemovesClientOnWriteError verifies that when writePump
// encounters a write error it calls RemoveClient so the dead client is
// removed from the broadcaster's client map.
func TestWritePump_RemovesClientOnWriteError(t *testing.T) {
	srv, serverConn := dialTestWS(t)
	defer srv.Close()

	b := NewBroadcaster(staticSource{}, time.Hour, time.Hour, 0)
	defer b.Stop()

	// Build a client directly so we control when writePump starts.
	c := &client{
		conn: serverConn,
		b:    b,
		send: make(chan []byte, 64),
	}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	// Close the connection so any write attempt will immediately fail.
	serverConn.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	assert.Eventually(t, func() bool { return b.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSlowClientIsDropped(t *testing.T) {
	srv, serverConn := dialTestWS(t)
	defer srv.Close()
	defer serverConn.Close()

	b := NewBroadcaster(staticSource{}, time.Hour, time.Hour, 0)
	defer b.Stop()

	// No writePump: the buffer fills and the next broadcast drops the client.
	c := &client{conn: serverConn, b: b, send: make(chan []byte, 1)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	b.broadcast(MsgNotice, console.Notice{Text: "one"})
	assert.Equal(t, 1, b.ClientCount())
	b.broadcast(MsgNotice, console.Notice{Text: "two"})
	assert.Equal(t, 0, b.ClientCount())
}

func TestStopIgnoresLaterUpdates(t *testing.T) {
	b := NewBroadcaster(staticSource{}, time.Millisecond, time.Hour, 0)
	b.Stop()
	b.Stop()

	b.Notice(console.Notice{Text: "late"})
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	assert.Nil(t, b.flushTimer)
	assert.Empty(t, b.pendingNotices)
}
