package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetricsPerRegistry(t *testing.T) {
	first := NewMetrics("booth", prometheus.NewRegistry())
	second := NewMetrics("booth", prometheus.NewRegistry())

	first.SessionsSwept.Add(3)
	second.SessionEvents.WithLabelValues("created").Inc()

	rec := httptest.NewRecorder()
	first.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "booth_sessions_swept_total 3") {
		t.Fatalf("first registry missing swept counter:\n%s", body)
	}
	if strings.Contains(string(body), `booth_session_events_total{event="created"}`) {
		t.Fatalf("first registry serves the second registry's series")
	}
}
