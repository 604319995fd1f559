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
	rec.ObserveRequest("cache", 200, 250*time.Millisecond)

	families := gather(t, rec, "thumbproxy_thumbnail_requests_total", "thumbproxy_thumbnail_request_duration_seconds")

	counter := findMetric(t, families["thumbproxy_thumbnail_requests_total"], map[string]string{
		"tier":        "cache",
		"status_code": "200",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for thumbnail requests")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["thumbproxy_thumbnail_request_duration_seconds"], map[string]string{
		"tier": "cache",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for request latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveRequestUnknownLabels(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveRequest("  ", 0, time.Millisecond)

	families := gather(t, rec, "thumbproxy_thumbnail_requests_total")
	findMetric(t, families["thumbproxy_thumbnail_requests_total"], map[string]string{
		"tier":        "unknown",
		"status_code": "unknown",
	})
}

func TestRecorderObserveCacheChecksAndSubmissions(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheCheck(CacheCheckHit)
	rec.ObserveCacheCheck(CacheCheckError)
	rec.ObserveCacheCheck(CacheCheckError)
	rec.ObserveQueueSubmission(QueueSubmissionSubmitted)

	families := gather(t, rec, "thumbproxy_cache_checks_total", "thumbproxy_queue_submissions_total")

	hit := findMetric(t, families["thumbproxy_cache_checks_total"], map[string]string{"result": string(CacheCheckHit)})
	if got := hit.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected hit counter 1, got %v", got)
	}
	errored := findMetric(t, families["thumbproxy_cache_checks_total"], map[string]string{"result": string(CacheCheckError)})
	if got := errored.GetCounter().GetValue(); got != 2 {
		t.Fatalf("expected error counter 2, got %v", got)
	}
	submitted := findMetric(t, families["thumbproxy_queue_submissions_total"], map[string]string{"result": string(QueueSubmissionSubmitted)})
	if got := submitted.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected submission counter 1, got %v", got)
	}
}

func TestRecorderNilSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveRequest("cache", 200, time.Millisecond)
	rec.ObserveCacheCheck(CacheCheckMiss)
	rec.ObserveQueueSubmission(QueueSubmissionError)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
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
