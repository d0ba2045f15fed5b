package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/tui/client"
	"github.com/hf1860/console/internal/tui/theme"
	"github.com/hf1860/console/internal/tui/views/decodelog"
	"github.com/hf1860/console/internal/tui/views/delay"
	"github.com/hf1860/console/internal/tui/views/devices"
	"github.com/hf1860/console/internal/tui/views/events"
	"github.com/hf1860/console/internal/tui/views/help"
	"github.com/hf1860/console/internal/tui/views/notices"
	"github.com/hf1860/console/internal/tui/views/preview"
	"github.com/hf1860/console/internal/tui/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayHelp
	OverlayDelay
	OverlayEvents
	OverlayNotices
)

const (
	statusHeight  = 3
	footerHeight  = 1
	devicesHeight = 6
)

// Results of HTTP commands.
type (
	actionMsg struct {
		op  string
		err error
	}
	delayMsg struct {
		ms  int
		err error
	}
	eventsMsg struct {
		data *client.OutputEvents
		err  error
	}
	frameMsg struct {
		frame *client.Frame
		err   error
	}
)

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	keys   KeyMap
	width  int
	height int

	overlay Overlay

	// Sub-views.
	statusBar status.Model
	devices   devices.Model
	preview   preview.Model
	decodeLog decodelog.Model
	notices   notices.Model
	delay     delay.Model
	events    events.Model
	help      help.Model

	// Connection state.
	connected bool
	fetching  bool
}

// New creates the root model.
func New(ws *client.WSClient, http *client.HTTPClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:        ws,
		http:      http,
		ctx:       ctx,
		cancel:    cancel,
		logger:    clog.WithComponent("tui"),
		keys:      DefaultKeyMap(),
		statusBar: status.New(),
		devices:   devices.New(),
		preview:   preview.New(),
		decodeLog: decodelog.New(),
		notices:   notices.New(),
		delay:     delay.New(),
		events:    events.New(),
		help:      help.New("dark"),
	}
}

// Init starts the WebSocket connection.
func (m Model) Init() tea.Cmd {
	return m.ws.Listen(m.ctx)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Linked = true
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Linked = false
		m.fetching = false
		if msg.Err != nil {
			m.logger.Debug().Err(msg.Err).Msg("ws link lost")
		}
		return m, m.ws.Listen(m.ctx)

	case client.WSSnapshotMsg:
		p := msg.Payload
		m.statusBar.Initialized = p.Initialized
		m.statusBar.InitError = p.InitError
		m.statusBar.Session = p.Session
		m.devices.Set(p.Devices)
		m.decodeLog.Sync(p.Counters, p.LastVerdict, p.Log)
		if p.Frame != nil {
			m.preview.Latest = *p.Frame
		} else {
			m.preview.Clear()
		}
		return m, tea.Batch(m.ws.ReadLoop(m.ctx), m.maybeFetch())

	case client.WSDevicesMsg:
		m.devices.Set(msg.Payload)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSSessionMsg:
		m.statusBar.Session = msg.Payload
		if msg.Payload.State == client.StateDisconnected {
			m.preview.Clear()
		}
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDecodeMsg:
		m.decodeLog.Add(msg.Payload.Records)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSFrameMsg:
		m.preview.Latest = msg.Payload
		return m, tea.Batch(m.ws.ReadLoop(m.ctx), m.maybeFetch())

	case client.WSNoticeMsg:
		m.addNotice(msg.Payload)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSErrorMsg:
		m.addNotice(client.Notice{Level: "error", Code: msg.Payload.Code, Text: msg.Payload.Message})
		return m, m.ws.ReadLoop(m.ctx)

	case actionMsg:
		if msg.err != nil {
			m.report(msg.op, msg.err)
		}
		return m, nil

	case delayMsg:
		if msg.err != nil {
			m.report("set delay", msg.err)
			return m, nil
		}
		m.statusBar.Session.OutputDelay = msg.ms
		m.statusBar.Session.OutputDelayKnown = true
		return m, nil

	case eventsMsg:
		m.events.Set(msg.data, msg.err)
		return m, nil

	case frameMsg:
		m.fetching = false
		if msg.err != nil {
			if !errors.Is(msg.err, context.Canceled) {
				m.logger.Debug().Err(msg.err).Msg("frame fetch failed")
				m.preview.Err = msg.err
			}
			return m, nil
		}
		if err := m.preview.SetFrame(msg.frame); err != nil {
			m.logger.Debug().Err(err).Msg("frame decode failed")
		}
		if msg.frame == nil {
			// The daemon dropped the frame between announcing and serving it.
			m.preview.Latest.Seq = m.preview.Seq
		}
		return m, m.maybeFetch()
	}

	if m.overlay == OverlayDelay {
		var cmd tea.Cmd
		m.delay, cmd = m.delay.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.overlay {
	case OverlayDelay:
		return m.handleDelayKey(msg)
	case OverlayNone:
	default:
		return m.handleOverlayKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Search):
		return m, m.call("search", m.http.Search)

	case key.Matches(msg, m.keys.Down):
		m.devices.Next()
		return m, nil

	case key.Matches(msg, m.keys.Up):
		m.devices.Prev()
		return m, nil

	case key.Matches(msg, m.keys.Enter):
		id, ok := m.devices.Current()
		if !ok {
			return m, nil
		}
		h := m.http
		return m, m.call("select "+id, func(ctx context.Context) error { return h.Select(ctx, id) })

	case key.Matches(msg, m.keys.Connect):
		return m, m.call("toggle connection", m.http.Toggle)

	case key.Matches(msg, m.keys.LiveView):
		on := m.statusBar.Session.State != client.StateStreaming
		h := m.http
		op := "live view off"
		if on {
			op = "live view on"
		}
		return m, m.call(op, func(ctx context.Context) error { return h.LiveView(ctx, on) })

	case key.Matches(msg, m.keys.Delay):
		m.overlay = OverlayDelay
		return m, m.delay.Open(m.statusBar.Session.OutputDelay, m.statusBar.Session.OutputDelayKnown)

	case key.Matches(msg, m.keys.Events):
		m.overlay = OverlayEvents
		return m, m.loadEvents()

	case key.Matches(msg, m.keys.Notices):
		m.overlay = OverlayNotices
		return m, nil

	case key.Matches(msg, m.keys.Resync):
		if err := m.ws.Resync(); err != nil {
			m.report("resync", err)
		}
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.overlay = OverlayHelp
		return m, nil
	}

	return m, nil
}

func (m Model) handleOverlayKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Escape):
		m.overlay = OverlayNone
	case m.overlay == OverlayHelp && key.Matches(msg, m.keys.Help):
		m.overlay = OverlayNone
	case m.overlay == OverlayEvents && key.Matches(msg, m.keys.Events):
		return m, m.loadEvents()
	case m.overlay == OverlayNotices && key.Matches(msg, m.keys.Up):
		m.notices.ScrollUp(1)
	case m.overlay == OverlayNotices && key.Matches(msg, m.keys.Down):
		m.notices.ScrollDown(1)
	}
	return m, nil
}

func (m Model) handleDelayKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.delay.Close()
		m.overlay = OverlayNone
		return m, nil
	case key.Matches(msg, m.keys.Enter):
		ms, err := m.delay.Value()
		if err != nil {
			return m, nil
		}
		m.delay.Close()
		m.overlay = OverlayNone
		h, ctx := m.http, m.ctx
		return m, func() tea.Msg {
			got, err := h.SetDelay(ctx, ms)
			return delayMsg{ms: got, err: err}
		}
	}
	var cmd tea.Cmd
	m.delay, cmd = m.delay.Update(msg)
	return m, cmd
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.cancel()
	if m.ws != nil {
		m.ws.Close()
	}
	return m, tea.Quit
}

// call runs fn off the UI goroutine and reports its error as op.
func (m Model) call(op string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{op: op, err: fn(ctx)}
	}
}

func (m *Model) loadEvents() tea.Cmd {
	m.events.Start()
	h, ctx := m.http, m.ctx
	return func() tea.Msg {
		data, err := h.OutputEvents(ctx)
		return eventsMsg{data: data, err: err}
	}
}

// maybeFetch starts a frame fetch when a newer frame is announced and none
// is in flight. The client's rate limiter paces consecutive fetches.
func (m *Model) maybeFetch() tea.Cmd {
	if m.fetching || !m.preview.Stale() || m.http == nil {
		return nil
	}
	m.fetching = true
	h, ctx := m.http, m.ctx
	return func() tea.Msg {
		f, err := h.Frame(ctx)
		return frameMsg{frame: f, err: err}
	}
}

func (m *Model) addNotice(n client.Notice) {
	m.notices.Add(n)
	last, _ := m.notices.Last()
	m.statusBar.Notice = &last
}

func (m *Model) report(op string, err error) {
	n := client.Notice{Level: "error", Text: fmt.Sprintf("%s: %v", op, err)}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		n.Code = apiErr.Code
		n.Text = fmt.Sprintf("%s: %s", op, apiErr.Message)
	}
	m.logger.Warn().Err(err).Str("op", op).Msg("request failed")
	m.addNotice(n)
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.statusBar.Width = width
	m.decodeLog.SetSize(m.leftWidth(), m.bodyHeight()-devicesHeight)
}

func (m Model) leftWidth() int {
	return max(m.width/2, 30)
}

func (m Model) bodyHeight() int {
	return max(m.height-statusHeight-footerHeight, 8)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch {
	case !m.connected:
		body = m.renderDisconnected()
	case m.overlay == OverlayHelp:
		body = m.help.View(m.keys.Bindings(), m.width)
	case m.overlay == OverlayDelay:
		body = m.delay.View(m.width)
	case m.overlay == OverlayEvents:
		body = m.events.View(m.width)
	case m.overlay == OverlayNotices:
		body = m.notices.View(m.width, m.bodyHeight())
	default:
		body = m.renderMain()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusBar.View(),
		body,
		theme.StyleDimmed.Render("  s:search  j/k:device  enter:select  c:connect  l:live  e:delay  o:events  n:notices  ?:help  q:quit"),
	)
}

func (m Model) renderMain() string {
	leftW := m.leftWidth()
	left := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Height(devicesHeight).Render(m.devices.View(leftW)),
		m.decodeLog.View(),
	)
	right := m.preview.View(max(m.width-leftW-2, 10), m.bodyHeight())
	return lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(leftW).Render(left),
		"  ",
		right,
	)
}

func (m Model) renderDisconnected() string {
	msg := lipgloss.JoinVertical(lipgloss.Center,
		lipgloss.NewStyle().Bold(true).Foreground(theme.ColorDanger).Render("DISCONNECTED"),
		theme.StyleDimmed.Render("Reconnecting to the console daemon..."),
	)
	return lipgloss.Place(m.width, m.bodyHeight(), lipgloss.Center, lipgloss.Center, msg)
}
