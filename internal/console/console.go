// Package console wires the device SDK to the core components. SDK
// callbacks are handed to the dispatcher; everything a Display sees is
// produced on the dispatcher loop.
package console

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hf1860/console/internal/config"
	"github.com/hf1860/console/internal/decode"
	"github.com/hf1860/console/internal/device"
	"github.com/hf1860/console/internal/dispatch"
	"github.com/hf1860/console/internal/frame"
	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/sdk"
	"github.com/hf1860/console/internal/session"
)

var (
	ErrInitializationFailed = errors.New("sdk initialization failed")
	ErrSearchFailed         = errors.New("device search failed")
)

// Display receives everything the operator sees. Methods are called on the
// dispatcher loop, one at a time, and must not block.
type Display interface {
	DevicesChanged(devices Devices)
	SessionChanged(snap session.Snapshot)
	FrameUpdated(info frame.Info)
	DecodeRecorded(rec decode.Record)
	Notice(n Notice)
}

// Devices is the directory as shown to the operator.
type Devices struct {
	IDs      []string `json:"ids"`
	Selected string   `json:"selected,omitempty"`
}

// State is a complete view of the console for new display clients.
type State struct {
	Initialized bool                             `json:"initialized"`
	InitError   string                           `json:"initError,omitempty"`
	Session     session.Snapshot                 `json:"session"`
	Devices     Devices                          `json:"devices"`
	Counters    decode.Counters                  `json:"counters"`
	LastVerdict decode.Verdict                   `json:"lastVerdict"`
	Log         []string                         `json:"log"`
	Frame       *frame.Info                      `json:"frame,omitempty"`
	Frames      frame.Stats                      `json:"frames"`
	Dispatch    map[string]dispatch.ChannelStats `json:"dispatch"`
}

type Console struct {
	sdk    sdk.SDK
	logger zerolog.Logger

	dispatcher *dispatch.Dispatcher
	directory  *device.Directory
	session    *session.Session
	aggregator *decode.Aggregator
	frames     *frame.Sink

	mu       sync.RWMutex
	displays []Display
	device   config.DeviceConfig
	logTail  int
	initErr  error
	inited   bool
}

func New(s sdk.SDK, cfg *config.Config, displays ...Display) *Console {
	directory := device.NewDirectory()
	c := &Console{
		sdk:        s,
		logger:     clog.WithComponent("console"),
		dispatcher: dispatch.New(),
		directory:  directory,
		aggregator: decode.NewAggregator(),
		frames:     frame.NewSink(),
		displays:   displays,
		device:     cfg.Device,
		logTail:    cfg.Broadcast.LogTail,
	}
	c.session = session.New(s, directory, session.Options{
		JobID:    cfg.Device.JobID,
		PinIndex: cfg.Device.PinIndex,
		Settle:   cfg.Device.LiveViewSettle,
	})
	c.session.Subscribe(session.Subscriptions{
		Image:  c.onImage,
		Decode: c.onDecode,
	})
	c.session.Observe(c.onSession)
	directory.Subscribe(c.onDevices)
	return c
}

// AddDisplay attaches d. Call before Run.
func (c *Console) AddDisplay(d Display) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displays = append(c.displays, d)
}

// ApplyConfig picks up the runtime-safe fields of a reloaded config.
func (c *Console) ApplyConfig(cfg *config.Config) {
	c.mu.Lock()
	c.device.AutoStream = cfg.Device.AutoStream
	c.device.LiveViewSettle = cfg.Device.LiveViewSettle
	c.logTail = cfg.Broadcast.LogTail
	c.mu.Unlock()
	c.session.SetSettle(cfg.Device.LiveViewSettle)
}

// Init brings up the SDK. On failure every device intent returns
// ErrInitializationFailed and a fatal notice is published.
func (c *Console) Init() error {
	res := c.sdk.Init()
	if !res.OK() {
		err := fmt.Errorf("%w: %w", ErrInitializationFailed, res.Err())
		c.mu.Lock()
		c.initErr = err
		c.mu.Unlock()
		c.logger.Error().Str(clog.FieldResult, res.String()).Msg("sdk init failed")
		c.notify(LevelFatal, ErrorCode(err), "SDK initialization failed; device operations are disabled")
		return err
	}
	c.sdk.RegisterFoundDevice(c.onFound)

	c.mu.Lock()
	c.inited = true
	auto := c.device.AutoSearch
	c.mu.Unlock()

	c.logger.Info().Msg("sdk initialized")
	if auto {
		return c.Search()
	}
	return nil
}

// Run drives the dispatcher loop until ctx is done.
func (c *Console) Run(ctx context.Context) error {
	err := c.dispatcher.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops streaming, disconnects and releases the SDK.
func (c *Console) Close() {
	c.mu.RLock()
	inited := c.inited
	c.mu.RUnlock()
	if !inited {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.session.State().IsConnected() {
		if err := c.session.Disconnect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("disconnect on close")
		}
	}
	c.sdk.DeInit()

	c.mu.Lock()
	c.inited = false
	c.mu.Unlock()
	c.logger.Info().Msg("sdk released")
}

func (c *Console) ready() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.initErr != nil {
		return c.initErr
	}
	if !c.inited {
		return ErrInitializationFailed
	}
	return nil
}

// Search starts a new discovery cycle.
func (c *Console) Search() error {
	if err := c.ready(); err != nil {
		return c.fail("search", err)
	}
	c.post(dispatch.Discovery, func(context.Context) { c.directory.Reset() })

	res := c.sdk.SearchDevices()
	if !res.OK() {
		return c.fail("search", fmt.Errorf("%w: %w", ErrSearchFailed, res.Err()))
	}
	c.notify(LevelInfo, "searching", "Searching for devices...")
	return nil
}

// Select makes id the device used by the next connect.
func (c *Console) Select(id string) error {
	if err := c.directory.Select(id); err != nil {
		return c.fail("select", err)
	}
	c.post(dispatch.Discovery, func(context.Context) { c.onDevices(c.directory.List()) })
	return nil
}

func (c *Console) Connect(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return c.fail("connect", err)
	}
	if err := c.session.Connect(ctx); err != nil {
		return c.fail("connect", err)
	}
	return c.afterConnect(ctx)
}

func (c *Console) Disconnect(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return c.fail("disconnect", err)
	}
	if err := c.session.Disconnect(ctx); err != nil {
		return c.fail("disconnect", err)
	}
	c.afterDisconnect()
	return nil
}

// Toggle is the connect button: connect when disconnected, otherwise
// disconnect.
func (c *Console) Toggle(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return c.fail("toggle", err)
	}
	wasDisconnected := c.session.State() == session.Disconnected
	if err := c.session.Toggle(ctx); err != nil {
		return c.fail("toggle", err)
	}
	if c.session.State().IsConnected() && wasDisconnected {
		return c.afterConnect(ctx)
	}
	if c.session.State() == session.Disconnected {
		c.afterDisconnect()
	}
	return nil
}

func (c *Console) afterConnect(ctx context.Context) error {
	snap := c.session.Snapshot()
	c.notify(LevelInfo, "connected", "Connected to "+snap.Device)

	c.mu.RLock()
	auto := c.device.AutoStream
	c.mu.RUnlock()
	if !auto || snap.State == session.Streaming {
		return nil
	}
	return c.StartLiveView(ctx)
}

func (c *Console) afterDisconnect() {
	c.post(dispatch.Image, func(context.Context) { c.frames.Clear() })
	c.notify(LevelInfo, "disconnected", "Disconnected")
}

func (c *Console) StartLiveView(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return c.fail("live view", err)
	}
	if err := c.session.StartStreaming(ctx); err != nil {
		return c.fail("live view", err)
	}
	return nil
}

func (c *Console) StopLiveView(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return c.fail("live view", err)
	}
	if err := c.session.StopStreaming(ctx); err != nil {
		return c.fail("live view", err)
	}
	return nil
}

func (c *Console) OutputDelay() (int, error) {
	ms, err := c.session.OutputDelay()
	if err != nil {
		return 0, c.fail("output delay", err)
	}
	return ms, nil
}

func (c *Console) RefreshOutputDelay() (int, error) {
	ms, err := c.session.RefreshOutputDelay()
	if err != nil {
		return 0, c.fail("output delay", err)
	}
	return ms, nil
}

func (c *Console) SetOutputDelay(ms int) error {
	if err := c.session.SetOutputDelay(ms); err != nil {
		return c.fail("output delay", err)
	}
	c.notify(LevelInfo, "output_delay_set", fmt.Sprintf("Output delay set to %d ms", ms))
	return nil
}

func (c *Console) OutputEvents() ([]sdk.OutputEvent, error) {
	events, err := c.session.OutputEvents()
	if err != nil {
		return nil, c.fail("output events", err)
	}
	return events, nil
}

// Frames exposes the frame sink to the HTTP surface.
func (c *Console) Frames() *frame.Sink {
	return c.frames
}

func (c *Console) State() State {
	c.mu.RLock()
	inited, initErr, tail := c.inited, c.initErr, c.logTail
	c.mu.RUnlock()

	st := State{
		Initialized: inited,
		Session:     c.session.Snapshot(),
		Devices:     c.devices(c.directory.List()),
		Counters:    c.aggregator.Counters(),
		LastVerdict: c.aggregator.LastVerdict(),
		Log:         c.aggregator.Tail(tail),
		Frames:      c.frames.Stats(),
		Dispatch:    make(map[string]dispatch.ChannelStats),
	}
	if initErr != nil {
		st.InitError = initErr.Error()
	}
	if st.Log == nil {
		st.Log = []string{}
	}
	if info, ok := c.frames.Info(); ok {
		st.Frame = &info
	}
	for ch, s := range c.dispatcher.Stats() {
		st.Dispatch[ch.String()] = s
	}
	return st
}

// SDK callbacks. These run on SDK goroutines and only enqueue work.

func (c *Console) onFound(info sdk.DeviceInfo) {
	c.post(dispatch.Discovery, func(context.Context) {
		if c.directory.OnDeviceDiscovered(info.Serial) {
			c.logger.Info().
				Str(clog.FieldDevice, info.Serial).
				Str("model", info.Model).
				Str("ip", info.IP).
				Msg("device discovered")
		}
	})
}

func (c *Console) onImage(img sdk.ImageData, serial string) {
	data := frame.Own(img.Buf, img.Size)
	c.post(dispatch.Image, func(context.Context) {
		f, err := c.frames.OnFrame(data, len(data), serial)
		if err != nil {
			return
		}
		info := f.Info()
		c.each(func(d Display) { d.FrameUpdated(info) })
	})
}

func (c *Console) onDecode(code string, length int, serial string) {
	c.post(dispatch.Decode, func(context.Context) {
		ev := c.aggregator.Next(code, length, serial)
		rec := c.aggregator.Record(decode.Classify(ev))
		c.logger.Debug().
			Uint64(clog.FieldSeq, rec.Seq).
			Str(clog.FieldVerdict, rec.Verdict.String()).
			Int(clog.FieldLength, rec.Length).
			Msg("decode recorded")
		c.each(func(d Display) { d.DecodeRecorded(rec) })
	})
}

// onSession runs under the session's lifecycle lock, so snapshots are
// posted in the order they were produced.
func (c *Console) onSession(snap session.Snapshot) {
	c.post(dispatch.Control, func(context.Context) {
		c.each(func(d Display) { d.SessionChanged(snap) })
	})
}

// onDevices runs on the dispatcher loop.
func (c *Console) onDevices(ids []string) {
	devices := c.devices(ids)
	c.each(func(d Display) { d.DevicesChanged(devices) })
}

func (c *Console) devices(ids []string) Devices {
	sel, _ := c.directory.Selected()
	if ids == nil {
		ids = []string{}
	}
	return Devices{IDs: ids, Selected: sel}
}

func (c *Console) notify(level Level, code, text string) {
	n := Notice{Level: level, Code: code, Text: text, At: time.Now()}
	c.post(dispatch.Control, func(context.Context) {
		c.each(func(d Display) { d.Notice(n) })
	})
}

// fail publishes err as an error notice and returns it.
func (c *Console) fail(op string, err error) error {
	level := LevelError
	if errors.Is(err, ErrInitializationFailed) {
		level = LevelFatal
	}
	c.logger.Warn().Err(err).Str(clog.FieldEvent, op).Msg("intent failed")
	c.notify(level, ErrorCode(err), op+": "+err.Error())
	return err
}

func (c *Console) post(ch dispatch.Channel, fn dispatch.Handler) {
	if err := c.dispatcher.Post(ch, fn); err != nil {
		c.logger.Debug().Err(err).Str(clog.FieldChannel, ch.String()).Msg("post dropped")
	}
}

func (c *Console) each(fn func(Display)) {
	c.mu.RLock()
	displays := slices.Clone(c.displays)
	c.mu.RUnlock()
	for _, d := range displays {
		fn(d)
	}
}
