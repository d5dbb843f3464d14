package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"robolearn/internal/adapters/metrics"
)

func requestSeries(t *testing.T, c *metrics.Collector) int {
	t.Helper()
	n, err := testutil.GatherAndCount(c.Registry(), "robolearn_http_request_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	return n
}

// requestLabels returns the label set of every request series.
func requestLabels(t *testing.T, c *metrics.Collector) []map[string]string {
	t.Helper()
	families, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var out []map[string]string
	for _, mf := range families {
		if mf.GetName() != "robolearn_http_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out = append(out, labels)
		}
	}
	return out
}

// TestTiming_RecordsRequest verifies that a request is observed under its route pattern.
func TestTiming_RecordsRequest(t *testing.T) {
	collector := metrics.NewCollector()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/approvals", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := Timing(collector, 0)(mux)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/approvals", nil))

	if got := requestSeries(t, collector); got != 1 {
		t.Fatalf("series = %d, want 1", got)
	}
	labels := requestLabels(t, collector)[0]
	if labels["path"] != "GET /api/approvals" || labels["status"] != "200" {
		t.Errorf("labels = %v, want path=GET /api/approvals status=200", labels)
	}
}

// TestTiming_SkipsStatic verifies static assets are excluded from timing.
func TestTiming_SkipsStatic(t *testing.T) {
	collector := metrics.NewCollector()
	handler := Timing(collector, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/static/style.css", nil))

	if got := requestSeries(t, collector); got != 0 {
		t.Errorf("series = %d, want 0 (static excluded)", got)
	}
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

// TestTiming_CapturesStatusCode verifies the status code passes through and is labelled.
func TestTiming_CapturesStatusCode(t *testing.T) {
	collector := metrics.NewCollector()
	handler := Timing(collector, 0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/missing/123", nil))

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
	found := false
	for _, labels := range requestLabels(t, collector) {
		if labels["status"] == "404" && labels["path"] == "unmatched" {
			found = true
		}
		if strings.Contains(labels["path"], "123") {
			t.Errorf("raw path leaked into label: %q", labels["path"])
		}
	}
	if !found {
		t.Error("expected a 404 series labelled unmatched")
	}
}

// TestTiming_NilCollector verifies the middleware works without metrics.
func TestTiming_NilCollector(t *testing.T) {
	handler := Timing(nil, 10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/register", nil))
	if rr.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rr.Code)
	}
}
