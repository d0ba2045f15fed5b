package console

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hf1860/console/internal/device"
	"github.com/hf1860/console/internal/session"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[Level]string{
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelFatal: "fatal",
}

var levelFromName = map[string]Level{
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
	"fatal": LevelFatal,
}

func (l Level) String() string {
	if s, ok := levelNames[l]; ok {
		return s
	}
	return "unknown"
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := levelFromName[s]; ok {
		*l = v
	}
	return nil
}

// Notice is one line of operator status text.
type Notice struct {
	Level Level     `json:"level"`
	Code  string    `json:"code"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// ErrorCode maps an error to the stable code shown with its notice.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInitializationFailed):
		return "initialization_failed"
	case errors.Is(err, device.ErrNoDeviceSelected):
		return "no_device_selected"
	case errors.Is(err, device.ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, session.ErrConnectionFailed):
		return "connection_failed"
	case errors.Is(err, session.ErrDisconnectionFailed):
		return "disconnection_failed"
	case errors.Is(err, session.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, session.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, session.ErrLiveViewFailed):
		return "live_view_failed"
	case errors.Is(err, session.ErrOutputDelayFailed):
		return "output_delay_failed"
	case errors.Is(err, session.ErrOutputEventFailed):
		return "output_event_failed"
	case errors.Is(err, session.ErrReentrant):
		return "reentrant_call"
	case errors.Is(err, ErrSearchFailed):
		return "search_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "internal"
}
