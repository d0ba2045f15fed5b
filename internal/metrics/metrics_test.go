package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hf1860/console/internal/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestRecordersExposeSeries(t *testing.T) {
	metrics.RecordDecode("pass", 25)
	metrics.RecordDecode("fail", 10)
	metrics.RecordFrame("ok", 1024)
	metrics.RecordFrame("empty", 0)
	metrics.RecordDispatchPosted("decode", 1)
	metrics.RecordDispatchHandled("decode", 0, time.Millisecond)
	metrics.RecordDispatchPanic("image")
	metrics.SetSessionState("disconnected", "connecting", []string{"disconnected", "connecting"})
	metrics.RecordSDKCall("connect", "ok")
	metrics.SetWSClients(2)
	metrics.RecordWSDropped()
	metrics.RecordConfigReload(false)

	body := scrape(t)
	for _, want := range []string{
		`console_decode_events_total{verdict="pass"}`,
		`console_decode_events_total{verdict="fail"}`,
		`console_frames_total{outcome="empty"}`,
		`console_dispatch_handled_total{channel="decode"}`,
		`console_dispatch_panics_total{channel="image"}`,
		`console_session_state{state="connecting"} 1`,
		`console_session_state{state="disconnected"} 0`,
		`console_session_transitions_total{from="disconnected",to="connecting"}`,
		`console_sdk_calls_total{op="connect",result="ok"}`,
		`console_ws_clients 2`,
		`console_config_reloads_total{outcome="failure"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestSetSessionStateSameStateDoesNotCountTransition(t *testing.T) {
	metrics.SetSessionState("connected", "connected", []string{"connected"})

	body := scrape(t)
	if strings.Contains(body, `from="connected",to="connected"`) {
		t.Error("self transition should not be counted")
	}
}
