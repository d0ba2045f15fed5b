// Package session owns the lifecycle of the single device connection:
// connect, live view, disconnect and the output delay read from the device.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hf1860/console/internal/dispatch"
	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/metrics"
	"github.com/hf1860/console/internal/sdk"
)

const (
	MinOutputDelay = 0
	MaxOutputDelay = 5000
)

// Selector supplies the device the operator has chosen.
type Selector interface {
	Selected() (string, error)
}

// Subscriptions are the SDK callbacks installed while streaming.
type Subscriptions struct {
	Image  sdk.ImageCallback
	Decode sdk.DecodeCallback
}

// Options configure a Session.
type Options struct {
	JobID    int
	PinIndex int
	// Settle is waited before every SetLiveViewOn call. The device reports
	// ready before its image pipeline accepts the command.
	Settle time.Duration
}

// Session is the device connection state machine. Lifecycle methods block
// on SDK calls and must not be called from the dispatcher loop.
type Session struct {
	sdk      sdk.SDK
	selector Selector
	logger   zerolog.Logger

	// op serialises lifecycle calls and SDK configuration calls.
	op sync.Mutex

	mu         sync.RWMutex
	opts       Options
	subs       Subscriptions
	observers  []func(Snapshot)
	state      State
	device     string
	id         string
	delay      int
	delayKnown bool
	since      time.Time
}

func New(s sdk.SDK, selector Selector, opts Options) *Session {
	return &Session{
		sdk:      s,
		selector: selector,
		logger:   clog.WithComponent("session"),
		opts:     opts,
		state:    Disconnected,
		since:    time.Now(),
	}
}

// Subscribe sets the callbacks installed by StartStreaming.
func (s *Session) Subscribe(subs Subscriptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = subs
}

// Observe registers fn to receive a Snapshot after every state change. fn
// runs on the goroutine that caused the change and must not block.
func (s *Session) Observe(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// SetSettle changes the live view settle delay for later calls.
func (s *Session) SetSettle(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts.Settle = d
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:            s.state,
		Device:           s.device,
		SessionID:        s.id,
		OutputDelay:      s.delay,
		OutputDelayKnown: s.delayKnown,
		Button:           s.state.ButtonLabel(),
		Since:            s.since,
	}
}

// Toggle connects when disconnected and disconnects otherwise.
func (s *Session) Toggle(ctx context.Context) error {
	if dispatch.InLoop(ctx) {
		return ErrReentrant
	}
	s.op.Lock()
	defer s.op.Unlock()

	if s.State() == Disconnected {
		return s.connectLocked()
	}
	return s.disconnectLocked(ctx)
}

// Connect opens the selected device. It is a no-op when already connected.
func (s *Session) Connect(ctx context.Context) error {
	if dispatch.InLoop(ctx) {
		return ErrReentrant
	}
	s.op.Lock()
	defer s.op.Unlock()
	return s.connectLocked()
}

func (s *Session) connectLocked() error {
	if s.State().IsConnected() {
		// Re-affirm the current state so observers resync.
		s.update(func() {})
		return nil
	}
	serial, err := s.selector.Selected()
	if err != nil {
		return err
	}

	if err := s.apply(evConnect, func() { s.device = serial }); err != nil {
		return err
	}

	res := s.sdk.ConnectDevice(serial)
	metrics.RecordSDKCall("connect", res.String())
	if !res.OK() {
		s.logger.Warn().
			Str(clog.FieldDevice, serial).
			Str(clog.FieldResult, res.String()).
			Msg("connect failed")
		if err := s.apply(evConnectFailed, s.resetConnection); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, serial, res.Err())
	}

	id := uuid.NewString()
	if err := s.apply(evConnectOK, func() { s.id = id }); err != nil {
		return err
	}
	s.logger.Info().
		Str(clog.FieldDevice, serial).
		Str(clog.FieldSessionID, id).
		Msg("device connected")

	if _, err := s.refreshDelayLocked(); err != nil {
		s.logger.Warn().Err(err).Str(clog.FieldDevice, serial).Msg("read output delay on connect")
	}
	return nil
}

// StartStreaming installs the frame and decode subscriptions and turns live
// view on. It is a no-op while already streaming.
func (s *Session) StartStreaming(ctx context.Context) error {
	if dispatch.InLoop(ctx) {
		return ErrReentrant
	}
	s.op.Lock()
	defer s.op.Unlock()

	switch s.State() {
	case Streaming:
		return nil
	case Connected:
	default:
		return ErrNotConnected
	}
	if _, err := s.selector.Selected(); err != nil {
		return err
	}

	s.mu.RLock()
	serial, subs := s.device, s.subs
	s.mu.RUnlock()

	if res := s.sdk.RegisterRecvImage(subs.Image, serial); !res.OK() {
		return fmt.Errorf("%w: register image: %w", ErrLiveViewFailed, res.Err())
	}
	if res := s.sdk.RegisterRecvDecode(subs.Decode, serial); !res.OK() {
		s.unsubscribe(serial)
		return fmt.Errorf("%w: register decode: %w", ErrLiveViewFailed, res.Err())
	}

	if err := s.settle(ctx); err != nil {
		s.unsubscribe(serial)
		return err
	}
	res := s.sdk.SetLiveViewOn(true, serial)
	metrics.RecordSDKCall("live_view_on", res.String())
	if !res.OK() {
		s.unsubscribe(serial)
		s.logger.Warn().
			Str(clog.FieldDevice, serial).
			Str(clog.FieldResult, res.String()).
			Msg("enable live view failed")
		return fmt.Errorf("%w: %w", ErrLiveViewFailed, res.Err())
	}

	return s.apply(evStartStream, nil)
}

// StopStreaming turns live view off and removes the subscriptions. It is a
// no-op while connected but not streaming.
func (s *Session) StopStreaming(ctx context.Context) error {
	if dispatch.InLoop(ctx) {
		return ErrReentrant
	}
	s.op.Lock()
	defer s.op.Unlock()

	switch s.State() {
	case Streaming:
	case Connected:
		return nil
	default:
		return ErrNotConnected
	}
	if _, err := s.selector.Selected(); err != nil {
		return err
	}
	return s.stopStreamingLocked(ctx)
}

// stopStreamingLocked always leaves the session Connected with both
// subscriptions removed. A live view failure is still reported.
func (s *Session) stopStreamingLocked(ctx context.Context) error {
	s.mu.RLock()
	serial := s.device
	s.mu.RUnlock()

	var liveErr error
	if err := s.settle(ctx); err != nil {
		liveErr = err
	} else {
		res := s.sdk.SetLiveViewOn(false, serial)
		metrics.RecordSDKCall("live_view_off", res.String())
		if !res.OK() {
			liveErr = fmt.Errorf("%w: %w", ErrLiveViewFailed, res.Err())
		}
	}
	if liveErr != nil {
		s.logger.Warn().Err(liveErr).Str(clog.FieldDevice, serial).Msg("disable live view")
	}

	s.unsubscribe(serial)
	if err := s.apply(evStopStream, nil); err != nil {
		return err
	}
	return liveErr
}

// Disconnect closes the session's device. Streaming is stopped first, so
// no frame or decode callback can arrive once Disconnected is published.
func (s *Session) Disconnect(ctx context.Context) error {
	if dispatch.InLoop(ctx) {
		return ErrReentrant
	}
	s.op.Lock()
	defer s.op.Unlock()
	return s.disconnectLocked(ctx)
}

func (s *Session) disconnectLocked(ctx context.Context) error {
	if s.State() == Disconnected {
		return nil
	}
	if _, err := s.selector.Selected(); err != nil {
		return err
	}

	if s.State() == Streaming {
		// The device link is going away; finish teardown even if ctx ends.
		if err := s.stopStreamingLocked(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Msg("stop streaming before disconnect")
		}
	}

	s.mu.RLock()
	serial := s.device
	s.mu.RUnlock()

	if err := s.apply(evDisconnect, nil); err != nil {
		return err
	}
	res := s.sdk.DisconnectDevice(serial)
	metrics.RecordSDKCall("disconnect", res.String())
	if !res.OK() {
		s.logger.Warn().
			Str(clog.FieldDevice, serial).
			Str(clog.FieldResult, res.String()).
			Msg("disconnect failed")
		if err := s.apply(evDisconnectFailed, nil); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrDisconnectionFailed, serial, res.Err())
	}

	s.logger.Info().Str(clog.FieldDevice, serial).Msg("device disconnected")
	return s.apply(evDisconnectOK, s.resetConnection)
}

// OutputDelay returns the delay read from the device, reading it first if
// it is not yet known.
func (s *Session) OutputDelay() (int, error) {
	s.mu.RLock()
	st, ms, known := s.state, s.delay, s.delayKnown
	s.mu.RUnlock()
	if !st.IsConnected() {
		return 0, ErrNotConnected
	}
	if known {
		return ms, nil
	}
	return s.RefreshOutputDelay()
}

// RefreshOutputDelay reads the delay from the device.
func (s *Session) RefreshOutputDelay() (int, error) {
	s.op.Lock()
	defer s.op.Unlock()
	return s.refreshDelayLocked()
}

func (s *Session) refreshDelayLocked() (int, error) {
	s.mu.RLock()
	st, serial, job, pin := s.state, s.device, s.opts.JobID, s.opts.PinIndex
	s.mu.RUnlock()
	if !st.IsConnected() {
		return 0, ErrNotConnected
	}

	ms, res := s.sdk.GetOutputDelayTime(job, pin, serial)
	metrics.RecordSDKCall("get_output_delay", res.String())
	if !res.OK() {
		return 0, fmt.Errorf("%w: read: %w", ErrOutputDelayFailed, res.Err())
	}
	s.update(func() {
		s.delay = ms
		s.delayKnown = true
	})
	return ms, nil
}

// SetOutputDelay writes ms to the device. ms must lie in
// [MinOutputDelay, MaxOutputDelay].
func (s *Session) SetOutputDelay(ms int) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.RLock()
	st, serial, job, pin := s.state, s.device, s.opts.JobID, s.opts.PinIndex
	s.mu.RUnlock()
	if !st.IsConnected() {
		return ErrNotConnected
	}
	if ms < MinOutputDelay || ms > MaxOutputDelay {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidRange, ms, MinOutputDelay, MaxOutputDelay)
	}

	res := s.sdk.SetOutputDelayTime(job, pin, ms, serial)
	metrics.RecordSDKCall("set_output_delay", res.String())
	if !res.OK() {
		return fmt.Errorf("%w: write: %w", ErrOutputDelayFailed, res.Err())
	}
	s.update(func() {
		s.delay = ms
		s.delayKnown = true
	})
	s.logger.Info().Str(clog.FieldDevice, serial).Int("ms", ms).Msg("output delay set")
	return nil
}

// OutputEvents reports the events configured on the session's job and pin.
func (s *Session) OutputEvents() ([]sdk.OutputEvent, error) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.RLock()
	st, serial, job, pin := s.state, s.device, s.opts.JobID, s.opts.PinIndex
	s.mu.RUnlock()
	if !st.IsConnected() {
		return nil, ErrNotConnected
	}

	events, res := s.sdk.GetOutputEvent(job, pin, serial)
	metrics.RecordSDKCall("get_output_event", res.String())
	if !res.OK() {
		return nil, fmt.Errorf("%w: %w", ErrOutputEventFailed, res.Err())
	}
	return events, nil
}

func (s *Session) settle(ctx context.Context) error {
	s.mu.RLock()
	d := s.opts.Settle
	s.mu.RUnlock()
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Session) unsubscribe(serial string) {
	if res := s.sdk.RegisterRecvImage(nil, serial); !res.OK() {
		s.logger.Warn().Str(clog.FieldResult, res.String()).Msg("unregister image callback")
	}
	if res := s.sdk.RegisterRecvDecode(nil, serial); !res.OK() {
		s.logger.Warn().Str(clog.FieldResult, res.String()).Msg("unregister decode callback")
	}
}

// resetConnection resets per-connection fields. Callers hold mu.
func (s *Session) resetConnection() {
	s.device = ""
	s.id = ""
	s.delay = 0
	s.delayKnown = false
}

// apply moves the session along the transition table for ev, runs mutate
// under the lock and publishes the resulting snapshot.
func (s *Session) apply(ev event, mutate func()) error {
	s.mu.Lock()
	from := s.state
	tr, ok := transitionFor(from, ev)
	if !ok {
		s.mu.Unlock()
		s.logger.Error().
			Str(clog.FieldOldState, from.String()).
			Str(clog.FieldEvent, ev.String()).
			Msg("illegal transition")
		return fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
	}
	if mutate != nil {
		mutate()
	}
	s.state = tr.To
	s.since = time.Now()
	snap := s.snapshotLocked()
	observers := s.observers
	s.mu.Unlock()

	metrics.SetSessionState(from.String(), tr.To.String(), StateNames())
	s.logger.Debug().
		Str(clog.FieldOldState, from.String()).
		Str(clog.FieldNewState, tr.To.String()).
		Str(clog.FieldEvent, ev.String()).
		Msg("session transition")

	for _, fn := range observers {
		fn(snap)
	}
	return nil
}

// update changes non-state fields and publishes a snapshot.
func (s *Session) update(mutate func()) {
	s.mu.Lock()
	mutate()
	snap := s.snapshotLocked()
	observers := s.observers
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}
