package session

import "fmt"

type event int

const (
	evConnect event = iota
	evConnectOK
	evConnectFailed
	evStartStream
	evStopStream
	evDisconnect
	evDisconnectOK
	evDisconnectFailed
)

var eventNames = map[event]string{
	evConnect:          "connect",
	evConnectOK:        "connect_ok",
	evConnectFailed:    "connect_failed",
	evStartStream:      "start_stream",
	evStopStream:       "stop_stream",
	evDisconnect:       "disconnect",
	evDisconnectOK:     "disconnect_ok",
	evDisconnectFailed: "disconnect_failed",
}

func (e event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", int(e))
}

type transition struct {
	From  State
	To    State
	Event event
}

// Streaming is only reachable from Connected, and Disconnecting always
// resolves to Disconnected or back to Connected.
var transitionsTable = []transition{
	// Connect path
	{From: Disconnected, To: Connecting, Event: evConnect},
	{From: Connecting, To: Connected, Event: evConnectOK},
	{From: Connecting, To: Disconnected, Event: evConnectFailed},

	// Live view
	{From: Connected, To: Streaming, Event: evStartStream},
	{From: Streaming, To: Connected, Event: evStopStream},

	// Disconnect path
	{From: Connected, To: Disconnecting, Event: evDisconnect},
	{From: Disconnecting, To: Disconnected, Event: evDisconnectOK},
	{From: Disconnecting, To: Connected, Event: evDisconnectFailed},
}

func transitionFor(from State, ev event) (transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return transition{}, false
}
