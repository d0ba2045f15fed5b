package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hf1860/console/internal/console"
	"github.com/hf1860/console/internal/decode"
	"github.com/hf1860/console/internal/frame"
	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/metrics"
	"github.com/hf1860/console/internal/session"
)

var ErrTooManyClients = errors.New("too many websocket clients")

const clientBuffer = 64

// StateSource supplies full snapshots.
type StateSource interface {
	State() console.State
}

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

// Broadcaster fans console updates out to WebSocket clients. It implements
// console.Display. Devices, session and frame updates are coalesced within
// the throttle window; decode records and notices are all delivered.
type Broadcaster struct {
	source     StateSource
	logger     zerolog.Logger
	maxClients int

	// sendMu orders sequence numbering with delivery.
	sendMu sync.Mutex
	seq    atomic.Uint64

	mu      sync.RWMutex
	clients map[*client]bool

	flushMu        sync.Mutex
	throttle       time.Duration
	flushTimer     *time.Timer
	pendingDevices *console.Devices
	pendingSession *session.Snapshot
	pendingFrame   *frame.Info
	pendingDecodes []decode.Record
	pendingNotices []console.Notice

	snapshotTicker *time.Ticker
	stop           chan struct{}
	stopOnce       sync.Once
}

var _ console.Display = (*Broadcaster)(nil)

// NewBroadcaster starts the periodic snapshot loop. maxClients <= 0 means
// no limit. Call Stop to release it.
func NewBroadcaster(source StateSource, throttle, snapshotInterval time.Duration, maxClients int) *Broadcaster {
	b := &Broadcaster{
		source:         source,
		logger:         clog.WithComponent("ws"),
		maxClients:     maxClients,
		clients:        make(map[*client]bool),
		throttle:       throttle,
		snapshotTicker: time.NewTicker(snapshotInterval),
		stop:           make(chan struct{}),
	}
	go b.snapshotLoop()
	return b
}

// Stop ends the snapshot loop and disconnects every client.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() {
		close(b.stop)
		b.snapshotTicker.Stop()

		b.flushMu.Lock()
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}
		b.flushMu.Unlock()

		b.mu.Lock()
		for c := range b.clients {
			delete(b.clients, c)
			close(c.send)
		}
		b.mu.Unlock()
		metrics.SetWSClients(0)
	})
}

// SetThrottle changes the coalescing window for later updates.
func (b *Broadcaster) SetThrottle(d time.Duration) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()
	b.throttle = d
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, clientBuffer),
	}

	b.mu.Lock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		return nil, ErrTooManyClients
	}
	b.clients[c] = true
	n := len(b.clients)
	b.mu.Unlock()
	metrics.SetWSClients(n)

	go c.writePump()
	b.SendSnapshot(c)
	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	n := len(b.clients)
	b.mu.Unlock()
	metrics.SetWSClients(n)
}

// SendSnapshot queues a full snapshot for c alone.
func (b *Broadcaster) SendSnapshot(c *client) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	data, err := b.encode(MsgSnapshot, b.source.State())
	if err != nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
		metrics.RecordWSDropped()
	}
}

func (b *Broadcaster) DevicesChanged(devices console.Devices) {
	b.queue(func() { b.pendingDevices = &devices })
}

func (b *Broadcaster) SessionChanged(snap session.Snapshot) {
	b.queue(func() { b.pendingSession = &snap })
}

func (b *Broadcaster) FrameUpdated(info frame.Info) {
	b.queue(func() { b.pendingFrame = &info })
}

func (b *Broadcaster) DecodeRecorded(rec decode.Record) {
	b.queue(func() { b.pendingDecodes = append(b.pendingDecodes, rec) })
}

func (b *Broadcaster) Notice(n console.Notice) {
	b.queue(func() { b.pendingNotices = append(b.pendingNotices, n) })
}

func (b *Broadcaster) queue(add func()) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	select {
	case <-b.stop:
		return
	default:
	}
	add()
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	devices, snap, info := b.pendingDevices, b.pendingSession, b.pendingFrame
	decodes, notices := b.pendingDecodes, b.pendingNotices
	b.pendingDevices, b.pendingSession, b.pendingFrame = nil, nil, nil
	b.pendingDecodes, b.pendingNotices = nil, nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if devices != nil {
		b.broadcast(MsgDevices, devices)
	}
	if snap != nil {
		b.broadcast(MsgSession, snap)
	}
	if len(decodes) > 0 {
		b.broadcast(MsgDecode, DecodePayload{Records: decodes})
	}
	if info != nil {
		b.broadcast(MsgFrame, info)
	}
	for _, n := range notices {
		b.broadcast(MsgNotice, n)
	}
}

func (b *Broadcaster) snapshotLoop() {
	for {
		select {
		case <-b.stop:
			return
		case <-b.snapshotTicker.C:
			if b.ClientCount() == 0 {
				continue
			}
			b.broadcast(MsgSnapshot, b.source.State())
		}
	}
}

func (b *Broadcaster) encode(t MessageType, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(WSMessage{Type: t, Seq: b.seq.Add(1), Payload: payload})
	if err != nil {
		b.logger.Error().Err(err).Str("type", string(t)).Msg("marshal message")
	}
	return data, err
}

func (b *Broadcaster) broadcast(t MessageType, payload interface{}) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	data, err := b.encode(t, payload)
	if err != nil {
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		if !b.trySend(c, data) {
			// Client can't keep up, disconnect it
			b.logger.Warn().Msg("ws client too slow, disconnecting")
			metrics.RecordWSDropped()
			b.RemoveClient(c)
		}
	}
}

// trySend reports false only when c's buffer is full. A client removed
// concurrently is skipped.
func (b *Broadcaster) trySend(c *client, data []byte) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
