package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveRequest(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRequest("data", "ok", 200, true, 250*time.Millisecond)

	families := gather(t, rec, "journalgate_http_requests_total", "journalgate_http_request_duration_seconds")

	counter := findMetric(t, families["journalgate_http_requests_total"], map[string]string{
		"route":       "data",
		"outcome":     "ok",
		"status_code": "200",
		"from_cache":  "true",
	})
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	hist := findMetric(t, families["journalgate_http_request_duration_seconds"], map[string]string{
		"route":   "data",
		"outcome": "ok",
	}).GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for request latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	if diff := math.Abs(hist.GetSampleSum() - 0.25); diff > 0.001 {
		t.Fatalf("expected histogram sum near 0.25, got %v", hist.GetSampleSum())
	}
}

func TestRecorderObserveRequestUnknownStatus(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRequest(" ", "", 0, false, time.Millisecond)

	families := gather(t, rec, "journalgate_http_requests_total")
	findMetric(t, families["journalgate_http_requests_total"], map[string]string{
		"route":       "unknown",
		"outcome":     "unknown",
		"status_code": "unknown",
		"from_cache":  "false",
	})
}

func TestRecorderObserveUpstream(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveUpstream("GET_STUDENT_MARKS", UpstreamOK, 100*time.Millisecond)
	rec.ObserveUpstream("login", UpstreamRejected, 50*time.Millisecond)

	families := gather(t, rec, "journalgate_upstream_calls_total", "journalgate_upstream_call_duration_seconds")
	ok := findMetric(t, families["journalgate_upstream_calls_total"], map[string]string{
		"operation": "GET_STUDENT_MARKS",
		"result":    string(UpstreamOK),
	})
	if got := ok.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected upstream ok counter 1, got %v", got)
	}
	findMetric(t, families["journalgate_upstream_calls_total"], map[string]string{
		"operation": "login",
		"result":    string(UpstreamRejected),
	})
}

func TestRecorderObserveCacheOperations(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheLookup("marks", CacheLookupHit, 10*time.Millisecond)
	rec.ObserveCacheStore("marks", CacheStoreStored, 5*time.Millisecond)

	families := gather(t, rec, "journalgate_cache_operations_total", "journalgate_cache_operation_duration_seconds")

	lookupMetric := findMetric(t, families["journalgate_cache_operations_total"], map[string]string{
		"data_type": "marks",
		"operation": string(CacheOperationLookup),
		"result":    string(CacheLookupHit),
	})
	if got := lookupMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected lookup counter 1, got %v", got)
	}

	latencyMetric := findMetric(t, families["journalgate_cache_operation_duration_seconds"], map[string]string{
		"data_type": "marks",
		"operation": string(CacheOperationStore),
		"result":    string(CacheStoreStored),
	})
	hist := latencyMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for cache store latency")
	}
	if diff := math.Abs(hist.GetSampleSum() - 0.005); diff > 0.001 {
		t.Fatalf("expected histogram sum near 0.005, got %v", hist.GetSampleSum())
	}
}

func TestRecorderObserveSessionAndSweep(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveSession("create", "ok")
	rec.ObserveSweep("session", 3)
	rec.ObserveSweep("session", 0)

	families := gather(t, rec, "journalgate_session_operations_total", "journalgate_store_sweep_evictions_total")
	findMetric(t, families["journalgate_session_operations_total"], map[string]string{
		"operation": "create",
		"result":    "ok",
	})
	sweep := findMetric(t, families["journalgate_store_sweep_evictions_total"], map[string]string{"store": "session"})
	if got := sweep.GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected 3 evictions, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveRequest("data", "ok", 200, false, time.Millisecond)
	rec.ObserveUpstream("login", UpstreamFailed, time.Millisecond)
	rec.ObserveCacheLookup("marks", CacheLookupMiss, time.Millisecond)
	rec.ObserveCacheStore("marks", CacheStoreError, time.Millisecond)
	rec.ObserveSession("lookup", "not_found")
	rec.ObserveSweep("cache", 1)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
