package session

import (
	"encoding/json"
	"time"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Streaming
	Disconnecting
)

var stateNames = map[State]string{
	Disconnected:  "disconnected",
	Connecting:    "connecting",
	Connected:     "connected",
	Streaming:     "streaming",
	Disconnecting: "disconnecting",
}

var stateFromName = map[string]State{
	"disconnected":  Disconnected,
	"connecting":    Connecting,
	"connected":     Connected,
	"streaming":     Streaming,
	"disconnecting": Disconnecting,
}

// StateNames lists every state name, for labelling metrics.
func StateNames() []string {
	return []string{"disconnected", "connecting", "connected", "streaming", "disconnecting"}
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

// IsConnected reports whether a device link is up.
func (s State) IsConnected() bool {
	return s == Connected || s == Streaming
}

// IsTransient reports whether an SDK call is in flight.
func (s State) IsTransient() bool {
	return s == Connecting || s == Disconnecting
}

// ButtonLabel is the text of the connect/disconnect control for s.
func (s State) ButtonLabel() string {
	switch s {
	case Connecting:
		return "Connecting..."
	case Connected, Streaming:
		return "Disconnect"
	case Disconnecting:
		return "Disconnecting..."
	}
	return "Connect"
}

// Snapshot is the published view of the session.
type Snapshot struct {
	State            State     `json:"state"`
	Device           string    `json:"device,omitempty"`
	SessionID        string    `json:"sessionId,omitempty"`
	OutputDelay      int       `json:"outputDelay"`
	OutputDelayKnown bool      `json:"outputDelayKnown"`
	Button           string    `json:"button"`
	Since            time.Time `json:"since"`
}
