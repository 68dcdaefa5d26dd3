package obs

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestSetupLogger_WhenLevelUnknown_ShouldDefaultToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := SetupLogger("shouty", "json", &buf)
	if l.GetLevel() != zerolog.InfoLevel {
		t.Errorf("want info level, got %v", l.GetLevel())
	}
	l.Debug().Msg("hidden")
	l.Info().Msg("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug line should be filtered at info level")
	}
	if !strings.Contains(out, `"message":"visible"`) {
		t.Errorf("expected JSON info line, got %q", out)
	}
}

func TestSetupLogger_WhenFormatText_ShouldWriteConsoleLines(t *testing.T) {
	var buf bytes.Buffer
	l := SetupLogger("debug", "text", &buf)
	l.Debug().Str("identity", "7").Msg("hello")
	out := buf.String()
	if strings.HasPrefix(out, "{") {
		t.Errorf("text format should not emit JSON, got %q", out)
	}
	if !strings.Contains(out, "hello") || !strings.Contains(out, "identity=7") {
		t.Errorf("unexpected console output %q", out)
	}
}

func TestMetrics_WhenNil_ShouldNotPanic(t *testing.T) {
	var m *Metrics
	m.ObserveMessage("ok")
	m.ObserveRateLimited()
	m.ObserveAttempt()
	m.ObserveAPI("ok", time.Second)
	m.SetLimiterIdentities(3)
	m.SetConversations(3)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil metrics handler: want 404, got %d", rec.Code)
	}
}

func TestMetrics_ShouldCountObservations(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveMessage("ok")
	m.ObserveMessage("ok")
	m.ObserveMessage("rate_limited")
	m.ObserveRateLimited()
	m.ObserveAPI("auth_failed", 10*time.Millisecond)
	m.SetLimiterIdentities(4)

	if got := testutil.ToFloat64(m.MessagesTotal.WithLabelValues("ok")); got != 2 {
		t.Errorf("messages ok: want 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.RateLimited); got != 1 {
		t.Errorf("rate limited: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("auth_failed")); got != 1 {
		t.Errorf("api auth_failed: want 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.LimiterIdentities); got != 4 {
		t.Errorf("identities gauge: want 4, got %v", got)
	}
}

func TestMetrics_Handler_ShouldExposeTextFormat(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveRateLimited()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "relaybot_rate_limited_total 1") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}
