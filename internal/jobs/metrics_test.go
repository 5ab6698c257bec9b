package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestTrackerRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	for i := 0; i < 3; i++ {
		if err := metrics.Track("logic:invoke").End(nil); err != nil {
			t.Fatalf("unexpected error ending tracker: %v", err)
		}
	}
	boom := errors.New("boom")
	if err := metrics.Track("logic:invoke").End(boom); !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
	metrics.Skip("logic:invoke", "tenant")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if got := counter(families, "edge_jobs_total", map[string]string{"job": "logic:invoke", "status": "success"}); got != 3 {
		t.Fatalf("expected 3 successes, got %v", got)
	}
	if got := counter(families, "edge_jobs_total", map[string]string{"job": "logic:invoke", "status": "failure"}); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := counter(families, "edge_jobs_skipped_total", map[string]string{"job": "logic:invoke", "reason": "tenant"}); got != 1 {
		t.Fatalf("expected 1 skip, got %v", got)
	}
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("boom")
	if err := metrics.Track("x").End(boom); !errors.Is(err, boom) {
		t.Fatalf("expected passthrough, got %v", err)
	}
	metrics.Skip("x", "y")
}

func counter(families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matches(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func matches(metric *dto.Metric, labels map[string]string) bool {
	found := 0
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok {
			if pair.GetValue() != want {
				return false
			}
			found++
		}
	}
	return found == len(labels)
}
