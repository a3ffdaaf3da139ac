package obs

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentUsesRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/reports/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/reports/{id}", "418"))
	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/reports/"+id, nil))
		if rr.Code != http.StatusTeapot {
			t.Fatalf("unexpected status %d", rr.Code)
		}
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/reports/{id}", "418"))
	if after-before != 2 {
		t.Fatalf("expected 2 requests under the route pattern, got %v", after-before)
	}
}

func TestRouteLabelUnmatched(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := RouteLabel(req); got != "unmatched" {
		t.Fatalf("RouteLabel=%q", got)
	}
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	if _, err := NewLogger("loud", "json"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	log, err := NewLogger("debug", "console")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	_ = log.Sync()
}

func TestStreamMetrics(t *testing.T) {
	Init()
	before := testutil.ToFloat64(streamDropped)
	StreamDropped()
	StreamDropped()
	if got := testutil.ToFloat64(streamDropped) - before; got != 2 {
		t.Fatalf("dropped delta=%v", got)
	}

	WatchSubscribers(func() int { return 3 })
	if got := testutil.ToFloat64(streamSubscribers); got != 3 {
		t.Fatalf("subscribers=%v", got)
	}
}
