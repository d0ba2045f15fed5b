package app

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hf1860/console/internal/tui/client"
	"github.com/hf1860/console/internal/tui/views/help"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(t *testing.T, m Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(Model)
	}
	return m, cmd
}

func newTestModel(t *testing.T) Model {
	t.Helper()
	m := New(nil, client.NewHTTPClient("http://127.0.0.1:0", "", 0))
	t.Cleanup(m.cancel)
	m.help = help.New("ascii")
	m, _ = send(t, m, tea.WindowSizeMsg{Width: 160, Height: 40}, client.WSConnectedMsg{})
	return m
}

func snapshot() client.WSSnapshotMsg {
	return client.WSSnapshotMsg{Payload: client.SnapshotPayload{
		Initialized: true,
		Session: client.Session{
			State:            client.StateConnected,
			Device:           "SN1",
			OutputDelay:      150,
			OutputDelayKnown: true,
			Button:           "Disconnect",
		},
		Devices:     client.Devices{IDs: []string{"SN1", "SN2"}, Selected: "SN1"},
		Counters:    client.Counters{Pass: 1, Fail: 1},
		LastVerdict: client.VerdictFail,
		Log:         []string{"ABCDEFGHIJKLMNOPQRSTUVWXY", "0123456789"},
	}}
}

func TestDisconnectOverlay(t *testing.T) {
	m := New(nil, nil)
	m.width = 80
	m.height = 24
	m.connected = false

	v := m.View()
	if !strings.Contains(v, "DISCONNECTED") {
		t.Error("disconnect overlay should contain 'DISCONNECTED'")
	}
	if !strings.Contains(v, "Reconnecting") {
		t.Error("disconnect overlay should contain 'Reconnecting'")
	}
}

func TestInitializingBeforeSize(t *testing.T) {
	if v := New(nil, nil).View(); v != "Initializing..." {
		t.Errorf("View() = %q", v)
	}
}

func TestLinkStateFollowsWebSocket(t *testing.T) {
	m := newTestModel(t)
	if !m.connected || !m.statusBar.Linked {
		t.Fatal("WSConnectedMsg should mark the link up")
	}
	m, cmd := send(t, m, client.WSDisconnectedMsg{})
	if m.connected || m.statusBar.Linked {
		t.Error("WSDisconnectedMsg should mark the link down")
	}
	if cmd == nil {
		t.Error("disconnect should schedule a reconnect")
	}
}

func TestSnapshotPopulatesViews(t *testing.T) {
	m, _ := send(t, newTestModel(t), snapshot())

	if m.statusBar.Session.State != client.StateConnected {
		t.Errorf("session state = %q", m.statusBar.Session.State)
	}
	if got, _ := m.devices.Current(); got != "SN1" {
		t.Errorf("cursor on %q, want selected SN1", got)
	}
	if len(m.decodeLog.Entries) != 2 {
		t.Errorf("decode log has %d entries, want 2", len(m.decodeLog.Entries))
	}

	v := m.View()
	for _, want := range []string{"connected", "device: SN1", "delay: 150 ms", "SN2", "FAIL", "total 2", "LIVE VIEW"} {
		if !strings.Contains(v, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestDecodeRecordsUpdateCounters(t *testing.T) {
	m, _ := send(t, newTestModel(t), client.WSDecodeMsg{Payload: client.DecodePayload{Records: []client.DecodeRecord{
		{Seq: 1, Code: "ABCDEFGHIJKLMNOPQRSTUVWXY", Length: 25, Verdict: client.VerdictPass, Counters: client.Counters{Pass: 1}},
	}}})
	if m.decodeLog.Counters != (client.Counters{Pass: 1}) || m.decodeLog.LastVerdict != client.VerdictPass {
		t.Errorf("after PASS: %+v %q", m.decodeLog.Counters, m.decodeLog.LastVerdict)
	}

	m, _ = send(t, m, client.WSDecodeMsg{Payload: client.DecodePayload{Records: []client.DecodeRecord{
		{Seq: 2, Code: "0123456789", Length: 10, Verdict: client.VerdictFail, Counters: client.Counters{Pass: 1, Fail: 1}},
	}}})
	if m.decodeLog.Counters != (client.Counters{Pass: 1, Fail: 1}) || m.decodeLog.LastVerdict != client.VerdictFail {
		t.Errorf("after FAIL: %+v %q", m.decodeLog.Counters, m.decodeLog.LastVerdict)
	}
}

func TestDeviceNavigationAndSelect(t *testing.T) {
	m, _ := send(t, newTestModel(t), snapshot())

	m, _ = send(t, m, runes("j"))
	if got, _ := m.devices.Current(); got != "SN2" {
		t.Errorf("after j cursor on %q, want SN2", got)
	}
	m, _ = send(t, m, runes("k"))
	if got, _ := m.devices.Current(); got != "SN1" {
		t.Errorf("after k cursor on %q, want SN1", got)
	}

	_, cmd := send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Error("enter on a device should issue a select request")
	}

	empty := newTestModel(t)
	if _, cmd := send(t, empty, tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("enter with no devices should do nothing")
	}
}

func TestActionKeysIssueRequests(t *testing.T) {
	m, _ := send(t, newTestModel(t), snapshot())
	for _, k := range []string{"s", "c", "l"} {
		if _, cmd := send(t, m, runes(k)); cmd == nil {
			t.Errorf("key %q should issue a request", k)
		}
	}
}

func TestFrameFetchSingleFlight(t *testing.T) {
	m := newTestModel(t)

	m, _ = send(t, m, client.WSFrameMsg{Payload: client.FrameInfo{Seq: 1}})
	if !m.fetching {
		t.Fatal("a new frame should start a fetch")
	}
	m, _ = send(t, m, client.WSFrameMsg{Payload: client.FrameInfo{Seq: 2}})
	if m.preview.Latest.Seq != 2 {
		t.Errorf("latest announced = %d, want 2", m.preview.Latest.Seq)
	}

	// The daemon had nothing to serve; the announced frame is considered seen.
	m, _ = send(t, m, frameMsg{})
	if m.fetching {
		t.Error("fetch should be idle after an empty result")
	}
	if m.preview.Stale() {
		t.Error("an empty result should not leave the preview stale")
	}
}

func TestSessionDisconnectClearsPreview(t *testing.T) {
	m := newTestModel(t)
	m.preview.Latest = client.FrameInfo{Seq: 9}
	m, _ = send(t, m, client.WSSessionMsg{Payload: client.Session{State: client.StateDisconnected}})
	if m.preview.Latest.Seq != 0 {
		t.Error("disconnect should clear the preview")
	}
}

func TestDelayEditor(t *testing.T) {
	m, _ := send(t, newTestModel(t), snapshot())

	m, _ = send(t, m, runes("e"))
	if m.overlay != OverlayDelay {
		t.Fatalf("overlay = %d, want delay editor", m.overlay)
	}
	if ms, err := m.delay.Value(); err != nil || ms != 150 {
		t.Errorf("editor prefill = %d, %v; want 150", ms, err)
	}

	// Out of range input keeps the editor open.
	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyBackspace}, tea.KeyMsg{Type: tea.KeyBackspace}, tea.KeyMsg{Type: tea.KeyBackspace})
	m, _ = send(t, m, runes("9"), runes("9"), runes("9"), runes("9"))
	m, cmd := send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.overlay != OverlayDelay || cmd != nil {
		t.Error("invalid delay should not be submitted")
	}

	m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.overlay != OverlayNone {
		t.Error("esc should close the editor")
	}

	m, _ = send(t, m, runes("e"))
	m, cmd = send(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.overlay != OverlayNone || cmd == nil {
		t.Error("valid delay should be submitted and close the editor")
	}

	m, _ = send(t, m, delayMsg{ms: 1200})
	if m.statusBar.Session.OutputDelay != 1200 || !m.statusBar.Session.OutputDelayKnown {
		t.Errorf("delay after set = %d", m.statusBar.Session.OutputDelay)
	}
}

func TestFailedRequestBecomesNotice(t *testing.T) {
	m := newTestModel(t)
	m, _ = send(t, m, actionMsg{op: "toggle connection", err: &client.APIError{
		Status: 400, Code: "no_device_selected", Message: "no device selected",
	}})

	n, ok := m.notices.Last()
	if !ok {
		t.Fatal("expected a notice")
	}
	if n.Code != "no_device_selected" || n.Level != "error" {
		t.Errorf("notice = %+v", n)
	}
	if m.statusBar.Notice == nil || !strings.Contains(m.statusBar.View(), "no device selected") {
		t.Error("status bar should flash the failure")
	}

	m, _ = send(t, m, actionMsg{op: "search"})
	if len(m.notices.Entries) != 1 {
		t.Error("successful actions should not add notices")
	}
}

func TestDaemonNoticesAndErrors(t *testing.T) {
	m := newTestModel(t)
	m, _ = send(t, m,
		client.WSNoticeMsg{Payload: client.Notice{Level: "info", Text: "connected to SN1"}},
		client.WSErrorMsg{Payload: client.ErrorPayload{Code: "internal", Message: "boom"}},
	)
	if len(m.notices.Entries) != 2 {
		t.Fatalf("expected 2 notices, got %d", len(m.notices.Entries))
	}
	if m.notices.Entries[1].Code != "internal" {
		t.Errorf("error payload not recorded: %+v", m.notices.Entries[1])
	}
}

func TestOverlays(t *testing.T) {
	tests := []struct {
		key     string
		overlay Overlay
		want    string
	}{
		{"?", OverlayHelp, "search for devices"},
		{"n", OverlayNotices, "NOTICES"},
		{"o", OverlayEvents, "OUTPUT EVENTS"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			m, _ := send(t, newTestModel(t), runes(tt.key))
			if m.overlay != tt.overlay {
				t.Fatalf("overlay = %d, want %d", m.overlay, tt.overlay)
			}
			if v := m.View(); !strings.Contains(v, tt.want) {
				t.Errorf("View() missing %q", tt.want)
			}
			m, _ = send(t, m, tea.KeyMsg{Type: tea.KeyEsc})
			if m.overlay != OverlayNone {
				t.Error("esc should close the overlay")
			}
		})
	}
}

func TestEventsLoaded(t *testing.T) {
	m, _ := send(t, newTestModel(t), runes("o"))
	if !m.events.Loading {
		t.Fatal("opening the events view should start a load")
	}
	m, _ = send(t, m, eventsMsg{data: &client.OutputEvents{PinIndex: 1, Events: []string{"decode_ok"}}})
	if !strings.Contains(m.View(), "decode_ok") {
		t.Error("loaded events should render")
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(t)
	_, cmd := send(t, m, runes("q"))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should produce tea.QuitMsg")
	}
	if m.ctx.Err() == nil {
		t.Error("quit should cancel the model context")
	}
}
