// Package client provides WebSocket and HTTP clients for the console daemon.
// Types mirror the daemon wire protocol without importing daemon packages.
package client

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of WebSocket message.
type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgDevices  MessageType = "devices"
	MsgSession  MessageType = "session"
	MsgDecode   MessageType = "decode"
	MsgFrame    MessageType = "frame"
	MsgNotice   MessageType = "notice"
	MsgError    MessageType = "error"
)

// WSMessage is the envelope for all WebSocket messages.
type WSMessage struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// SessionState is the daemon's connection state for the selected device.
type SessionState string

const (
	StateDisconnected  SessionState = "disconnected"
	StateConnecting    SessionState = "connecting"
	StateConnected     SessionState = "connected"
	StateStreaming     SessionState = "streaming"
	StateDisconnecting SessionState = "disconnecting"
)

// IsConnected reports whether the device link is up.
func (s SessionState) IsConnected() bool {
	return s == StateConnected || s == StateStreaming
}

// Verdict is the classification of a single decode read.
type Verdict string

const (
	VerdictNone Verdict = "none"
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// Label is the operator-facing text for v.
func (v Verdict) Label() string {
	switch v {
	case VerdictPass:
		return "PASS"
	case VerdictFail:
		return "FAIL"
	}
	return ""
}

type Session struct {
	State            SessionState `json:"state"`
	Device           string       `json:"device,omitempty"`
	SessionID        string       `json:"sessionId,omitempty"`
	OutputDelay      int          `json:"outputDelay"`
	OutputDelayKnown bool         `json:"outputDelayKnown"`
	Button           string       `json:"button"`
	Since            time.Time    `json:"since"`
}

type Devices struct {
	IDs      []string `json:"ids"`
	Selected string   `json:"selected,omitempty"`
}

type Counters struct {
	Pass uint64 `json:"pass"`
	Fail uint64 `json:"fail"`
}

func (c Counters) Total() uint64 {
	return c.Pass + c.Fail
}

// DecodeRecord is one classified read together with the counters after it.
type DecodeRecord struct {
	Seq      uint64   `json:"seq"`
	Code     string   `json:"code"`
	Length   int      `json:"length"`
	Device   string   `json:"device"`
	Verdict  Verdict  `json:"verdict"`
	Counters Counters `json:"counters"`
}

// FrameInfo describes the latest frame; the pixels are fetched over HTTP.
type FrameInfo struct {
	Seq        uint64    `json:"seq"`
	Device     string    `json:"device"`
	Format     string    `json:"format"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Bytes      int       `json:"bytes"`
	ReceivedAt time.Time `json:"receivedAt"`
}

type FrameStats struct {
	Received     uint64 `json:"received"`
	Displayed    uint64 `json:"displayed"`
	Empty        uint64 `json:"empty"`
	DecodeErrors uint64 `json:"decodeErrors"`
	Overwritten  uint64 `json:"overwritten"`
}

type Notice struct {
	Level string    `json:"level"`
	Code  string    `json:"code,omitempty"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// --- Payloads ---

type SnapshotPayload struct {
	Initialized bool       `json:"initialized"`
	InitError   string     `json:"initError,omitempty"`
	Session     Session    `json:"session"`
	Devices     Devices    `json:"devices"`
	Counters    Counters   `json:"counters"`
	LastVerdict Verdict    `json:"lastVerdict"`
	Log         []string   `json:"log"`
	Frame       *FrameInfo `json:"frame,omitempty"`
	Frames      FrameStats `json:"frames"`
}

type DecodePayload struct {
	Records []DecodeRecord `json:"records"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --- REST ---

type DelayResponse struct {
	MS int `json:"ms"`
}

type OutputEvents struct {
	JobID    int      `json:"jobId"`
	PinIndex int      `json:"pinIndex"`
	Events   []string `json:"events"`
}

// Frame is a PNG fetched from /api/frame.png.
type Frame struct {
	Seq    uint64
	Device string
	PNG    []byte
}
