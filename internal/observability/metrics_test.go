package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-edge/internal/platform/httpx"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/call")

	req := httptest.NewRequest(http.MethodPost, "/call", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, `edge_http_requests_total{code="418",route="/call"} 1`) {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, `edge_http_request_duration_seconds_bucket{route="/call"`) {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestMetricsRecordExecutionsAndCache(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveExecution("sql", time.Millisecond, nil)
	metrics.ObserveExecution("script", time.Millisecond, httpx.Errorf(httpx.ErrValidation, "missing required parameter: id"))
	metrics.ObserveExecution("crud", time.Millisecond, errors.New("boom"))
	metrics.ObserveCache(false)
	metrics.ObserveCache(true)
	metrics.ObserveCache(true)

	body := scrape(t, metrics)
	for _, want := range []string{
		`edge_logic_executions_total{kind="sql",outcome="ok"} 1`,
		`edge_logic_executions_total{kind="script",outcome="validation"} 1`,
		`edge_logic_executions_total{kind="crud",outcome="error"} 1`,
		`edge_response_cache_lookups_total{result="hit"} 2`,
		`edge_response_cache_lookups_total{result="miss"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in: %s", want, body)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveExecution("sql", time.Second, nil)
	metrics.ObserveCache(true)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from nil metrics, got %d", rr.Code)
	}
}
