// Package dispatch moves work from SDK-owned goroutines onto a single
// consumer loop. Each channel is an unbounded FIFO; the loop drains the
// channels round-robin, so a burst of frames cannot starve decode results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/rs/zerolog"

	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/metrics"
)

var (
	ErrClosed  = errors.New("dispatcher closed")
	ErrRunning = errors.New("dispatcher already running")
)

// Channel identifies one of the dispatcher's independent queues.
type Channel int

const (
	Discovery Channel = iota
	Image
	Decode
	Control

	numChannels
)

var channelNames = map[Channel]string{
	Discovery: "discovery",
	Image:     "image",
	Decode:    "decode",
	Control:   "control",
}

func (c Channel) String() string {
	if s, ok := channelNames[c]; ok {
		return s
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Channels lists every channel in drain order.
func Channels() []Channel {
	return []Channel{Discovery, Image, Decode, Control}
}

// Handler runs on the dispatcher loop. ctx is marked so InLoop(ctx) is true.
type Handler func(ctx context.Context)

// ChannelStats is a point-in-time view of one queue.
type ChannelStats struct {
	Posted  uint64 `json:"posted"`
	Handled uint64 `json:"handled"`
	Panics  uint64 `json:"panics"`
	Pending int    `json:"pending"`
}

type loopKey struct{}

// InLoop reports whether ctx was handed out by a dispatcher loop.
func InLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(loopKey{}).(bool)
	return v
}

type queue struct {
	items   deque.Deque[Handler]
	posted  uint64
	handled uint64
	panics  uint64
}

// Dispatcher is a set of FIFO queues with exactly one consumer.
type Dispatcher struct {
	logger zerolog.Logger

	mu      sync.Mutex
	queues  [numChannels]queue
	running bool
	closed  bool

	wake chan struct{}
}

func New() *Dispatcher {
	return &Dispatcher{
		logger: clog.WithComponent("dispatch"),
		wake:   make(chan struct{}, 1),
	}
}

// Post enqueues fn on ch. It never blocks on the consumer.
func (d *Dispatcher) Post(ch Channel, fn Handler) error {
	if ch < 0 || ch >= numChannels {
		return fmt.Errorf("post: unknown %s", ch)
	}
	if fn == nil {
		return nil
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	q := &d.queues[ch]
	q.items.PushBack(fn)
	q.posted++
	pending := q.items.Len()
	d.mu.Unlock()

	metrics.RecordDispatchPosted(ch.String(), pending)

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run consumes all channels until ctx is done. Handlers still queued when
// Run returns are discarded and later Posts fail with ErrClosed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.running {
		d.mu.Unlock()
		return ErrRunning
	}
	d.running = true
	d.mu.Unlock()

	loopCtx := context.WithValue(ctx, loopKey{}, true)
	defer d.close()

	d.logger.Debug().Str(clog.FieldEvent, "dispatch.started").Msg("dispatcher loop started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Debug().Str(clog.FieldEvent, "dispatch.stopped").Msg("dispatcher loop stopped")
			return ctx.Err()
		case <-d.wake:
		}
		d.drain(loopCtx)
	}
}

// drain takes one handler from each non-empty channel per pass until all
// channels are empty or ctx is done.
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		ran := false
		for ch := Channel(0); ch < numChannels; ch++ {
			fn, ok := d.pop(ch)
			if !ok {
				continue
			}
			ran = true
			d.invoke(ctx, ch, fn)
		}
		if !ran {
			return
		}
	}
}

func (d *Dispatcher) pop(ch Channel) (Handler, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := &d.queues[ch]
	if q.items.Len() == 0 {
		return nil, false
	}
	return q.items.PopFront(), true
}

func (d *Dispatcher) invoke(ctx context.Context, ch Channel, fn Handler) {
	start := time.Now()
	defer func() {
		panicked := false
		if r := recover(); r != nil {
			panicked = true
			d.logger.Error().
				Str(clog.FieldChannel, ch.String()).
				Interface("panic", r).
				Msg("handler panicked")
			metrics.RecordDispatchPanic(ch.String())
		}

		d.mu.Lock()
		q := &d.queues[ch]
		q.handled++
		if panicked {
			q.panics++
		}
		pending := q.items.Len()
		d.mu.Unlock()

		metrics.RecordDispatchHandled(ch.String(), pending, time.Since(start))
	}()
	fn(ctx)
}

func (d *Dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.running = false
	for ch := range d.queues {
		if n := d.queues[ch].items.Len(); n > 0 {
			d.logger.Debug().
				Str(clog.FieldChannel, Channel(ch).String()).
				Int("discarded", n).
				Msg("discarding queued handlers")
		}
		d.queues[ch].items.Clear()
	}
}

// Stats returns counters for every channel.
func (d *Dispatcher) Stats() map[Channel]ChannelStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Channel]ChannelStats, numChannels)
	for ch := Channel(0); ch < numChannels; ch++ {
		q := &d.queues[ch]
		out[ch] = ChannelStats{
			Posted:  q.posted,
			Handled: q.handled,
			Panics:  q.panics,
			Pending: q.items.Len(),
		}
	}
	return out
}

// Closed reports whether Run has returned.
func (d *Dispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
