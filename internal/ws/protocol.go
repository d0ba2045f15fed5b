package ws

import (
	"encoding/json"

	"github.com/hf1860/console/internal/console"
	"github.com/hf1860/console/internal/decode"
	"github.com/hf1860/console/internal/frame"
	"github.com/hf1860/console/internal/session"
)

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

// WSMessage is the envelope for every server-to-client message. Seq grows
// by one per message across all clients.
type WSMessage struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload interface{} `json:"payload"`
}

// InboundMessage is the envelope clients receive; Payload is decoded once
// Type is known.
type InboundMessage struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

type SnapshotPayload = console.State

type DevicesPayload = console.Devices

type SessionPayload = session.Snapshot

type DecodePayload struct {
	Records []decode.Record `json:"records"`
}

type FramePayload = frame.Info

type NoticePayload = console.Notice

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientRequest is sent by clients. The only request is "resync", which
// asks for a fresh snapshot.
type ClientRequest struct {
	Type string `json:"type"`
}

const RequestResync = "resync"
