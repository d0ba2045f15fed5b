// Package decode classifies decode results from the device and keeps the
// running pass/fail tally and code log for the current process.
package decode

import (
	"slices"
	"sync"
	"time"

	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/metrics"
)

// PassThreshold is the payload length a read must exceed to pass.
const PassThreshold = 20

// Event is one decode result as delivered by the SDK.
type Event struct {
	Seq        uint64    `json:"seq"`
	Code       string    `json:"code"`
	Length     int       `json:"length"`
	Device     string    `json:"device"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Result pairs an event with its verdict.
type Result struct {
	Event   Event   `json:"event"`
	Verdict Verdict `json:"verdict"`
}

// Counters is the pass/fail tally. Both values only grow.
type Counters struct {
	Pass uint64 `json:"pass"`
	Fail uint64 `json:"fail"`
}

func (c Counters) Total() uint64 {
	return c.Pass + c.Fail
}

// Record is what the display needs after one result is recorded.
type Record struct {
	Seq      uint64   `json:"seq"`
	Code     string   `json:"code"`
	Length   int      `json:"length"`
	Device   string   `json:"device"`
	Verdict  Verdict  `json:"verdict"`
	Counters Counters `json:"counters"`
}

// Classify grades ev by length alone.
func Classify(ev Event) Result {
	v := Fail
	if ev.Length > PassThreshold {
		v = Pass
	}
	return Result{Event: ev, Verdict: v}
}

// Aggregator owns the counters, the code log and the last verdict.
// Record is expected to run on one goroutine; readers may be concurrent.
type Aggregator struct {
	mu       sync.RWMutex
	counters Counters
	log      []string
	last     Verdict
	seq      uint64
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Next stamps ev with the next arrival sequence number.
func (a *Aggregator) Next(code string, length int, device string) Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return Event{
		Seq:        a.seq,
		Code:       code,
		Length:     length,
		Device:     device,
		ReceivedAt: time.Now(),
	}
}

// Record applies res to the tally and log as one step. A result without a
// pass or fail verdict is not counted or logged.
func (a *Aggregator) Record(res Result) Record {
	a.mu.Lock()
	switch res.Verdict {
	case Pass:
		a.counters.Pass++
	case Fail:
		a.counters.Fail++
	default:
		counters := a.counters
		a.mu.Unlock()
		logger := clog.WithComponent("decode")
		logger.Warn().
			Uint64("seq", res.Event.Seq).
			Str("verdict", res.Verdict.String()).
			Msg("ignoring unclassified decode result")
		return Record{
			Seq:      res.Event.Seq,
			Code:     res.Event.Code,
			Length:   res.Event.Length,
			Device:   res.Event.Device,
			Verdict:  res.Verdict,
			Counters: counters,
		}
	}
	a.log = append(a.log, res.Event.Code)
	a.last = res.Verdict
	counters := a.counters
	a.mu.Unlock()

	metrics.RecordDecode(res.Verdict.String(), res.Event.Length)

	return Record{
		Seq:      res.Event.Seq,
		Code:     res.Event.Code,
		Length:   res.Event.Length,
		Device:   res.Event.Device,
		Verdict:  res.Verdict,
		Counters: counters,
	}
}

func (a *Aggregator) Counters() Counters {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counters
}

// Log returns every recorded code in arrival order.
func (a *Aggregator) Log() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.log)
}

// Tail returns the last n codes, oldest first.
func (a *Aggregator) Tail(n int) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	if n > len(a.log) {
		n = len(a.log)
	}
	return slices.Clone(a.log[len(a.log)-n:])
}

func (a *Aggregator) LastVerdict() Verdict {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}
