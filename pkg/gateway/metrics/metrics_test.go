package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := New("eva")

	m.RecordCallStart()
	m.AudioForwarded("inbound")
	m.AudioForwarded("outbound")
	m.InterruptionAccepted()
	m.TruncationSent()
	m.RecordCallEnd("completed", 42*time.Second)
	m.RecordSummary("ok")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		`eva_calls_total{status="completed"} 1`,
		`eva_audio_frames_total{direction="inbound"} 1`,
		`eva_audio_frames_total{direction="outbound"} 1`,
		`eva_interruptions_total 1`,
		`eva_truncations_total 1`,
		`eva_summaries_total{status="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNewDefaultsNamespace(t *testing.T) {
	m := New("")
	m.RecordCallStart()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "eva_calls_active 1") {
		t.Error("expected eva namespace by default")
	}
}
