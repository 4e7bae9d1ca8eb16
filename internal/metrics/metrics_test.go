package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveInvocation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveInvocation("help", nil, 10*time.Millisecond)
	m.ObserveInvocation("help", errors.New("boom"), time.Millisecond)
	m.ObserveInvocation("help", nil, time.Millisecond)

	if got := testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("help", "ok")); got != 2 {
		t.Errorf("ok invocations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.InvocationsTotal.WithLabelValues("help", "error")); got != 1 {
		t.Errorf("error invocations = %v, want 1", got)
	}
}

func TestCacheCounters(t *testing.T) {
	m := New(nil)
	m.CacheHit("attributes")
	m.CacheHit("attributes")
	m.CacheMiss("help")
	m.SizeMismatch()

	if got := testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("attributes")); got != 2 {
		t.Errorf("hits = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("help")); got != 1 {
		t.Errorf("misses = %v", got)
	}
	if got := testutil.ToFloat64(m.SizeMismatchTotal); got != 1 {
		t.Errorf("size mismatches = %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveInvocation("x", nil, time.Second)
	m.CacheHit("x")
	m.CacheMiss("x")
	m.SizeMismatch()
	m.ObserveHTTP("GET", "/", 200, time.Second)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveHTTP("GET", "/api/status", 200, time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Result().Body)

	if !strings.Contains(string(body), `pyexplorer_http_requests_total{method="GET",route="/api/status",status="200"} 1`) {
		t.Errorf("missing http counter in exposition:\n%s", body)
	}
}
