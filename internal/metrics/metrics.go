// Package metrics exposes the console's Prometheus instruments. Callers use
// the Record*/Set* helpers; the collectors themselves stay private.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Decode metrics
	decodeEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_decode_events_total",
		Help: "Decode results recorded by verdict",
	}, []string{"verdict"}) // verdict=pass|fail

	decodeLength = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "console_decode_length_chars",
		Help:    "Length of decoded payloads",
		Buckets: []float64{5, 10, 15, 20, 25, 30, 40, 60, 100},
	})

	// Frame metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_frames_total",
		Help: "Image frames received by outcome",
	}, []string{"outcome"}) // outcome=ok|empty|decode_error|overwritten

	frameBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_frame_bytes_total",
		Help: "Bytes copied out of SDK image buffers",
	})

	// Dispatcher metrics
	dispatchPostedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_dispatch_posted_total",
		Help: "Handlers posted to the dispatcher per channel",
	}, []string{"channel"})

	dispatchHandledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_dispatch_handled_total",
		Help: "Handlers run by the dispatcher loop per channel",
	}, []string{"channel"})

	dispatchPanicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_dispatch_panics_total",
		Help: "Handlers that panicked per channel",
	}, []string{"channel"})

	dispatchPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_dispatch_pending",
		Help: "Handlers waiting in each channel queue",
	}, []string{"channel"})

	dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "console_dispatch_handler_seconds",
		Help:    "Handler run time per channel",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"channel"})

	// Session metrics
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "console_session_state",
		Help: "1 for the current session state, 0 otherwise",
	}, []string{"state"})

	sessionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_session_transitions_total",
		Help: "Session state transitions",
	}, []string{"from", "to"})

	sdkCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_sdk_calls_total",
		Help: "Device SDK calls by operation and result",
	}, []string{"op", "result"})

	// Display metrics
	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "console_ws_clients",
		Help: "Connected WebSocket display clients",
	})

	wsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "console_ws_dropped_messages_total",
		Help: "Messages dropped for slow WebSocket clients",
	})

	configReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "console_config_reloads_total",
		Help: "Configuration reload attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure
)

// RecordDecode counts one classified decode result.
func RecordDecode(verdict string, length int) {
	decodeEventsTotal.WithLabelValues(verdict).Inc()
	decodeLength.Observe(float64(length))
}

// RecordFrame counts one frame by outcome and the bytes copied for it.
func RecordFrame(outcome string, size int) {
	framesTotal.WithLabelValues(outcome).Inc()
	if size > 0 {
		frameBytes.Add(float64(size))
	}
}

func RecordDispatchPosted(channel string, pending int) {
	dispatchPostedTotal.WithLabelValues(channel).Inc()
	dispatchPending.WithLabelValues(channel).Set(float64(pending))
}

func RecordDispatchHandled(channel string, pending int, took time.Duration) {
	dispatchHandledTotal.WithLabelValues(channel).Inc()
	dispatchPending.WithLabelValues(channel).Set(float64(pending))
	dispatchLatency.WithLabelValues(channel).Observe(took.Seconds())
}

func RecordDispatchPanic(channel string) {
	dispatchPanicsTotal.WithLabelValues(channel).Inc()
}

// SetSessionState marks state as current and clears the others.
func SetSessionState(from, to string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == to {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
	if from != to {
		sessionTransitionsTotal.WithLabelValues(from, to).Inc()
	}
}

func RecordSDKCall(op, result string) {
	sdkCallsTotal.WithLabelValues(op, result).Inc()
}

func SetWSClients(n int) {
	wsClients.Set(float64(n))
}

func RecordWSDropped() {
	wsDroppedTotal.Inc()
}

func RecordConfigReload(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	configReloadsTotal.WithLabelValues(outcome).Inc()
}
