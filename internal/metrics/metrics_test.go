package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAreMonotonic(t *testing.T) {
	c := New()
	c.JobsProcessedTotal.Add(1)
	c.JobsProcessedTotal.Add(1)
	if got := testutil.ToFloat64(c.JobsProcessedTotal); got != 2 {
		t.Fatalf("expected counter at 2, got %v", got)
	}
}

func TestHealthStatusGaugeValues(t *testing.T) {
	c := New()
	c.HealthStatus.Set(HealthYellow)
	if got := testutil.ToFloat64(c.HealthStatus); got != HealthYellow {
		t.Fatalf("expected gauge set to %d, got %v", HealthYellow, got)
	}
}

func TestRenderProducesExpositionFormat(t *testing.T) {
	c := New()
	c.JobsProcessedTotal.Add(3)
	c.ActiveJobs.Set(2)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "# TYPE jobs_processed_total counter") {
		t.Fatalf("expected TYPE line for jobs_processed_total, got:\n%s", body)
	}
	if !strings.Contains(body, "jobs_processed_total 3") {
		t.Fatalf("expected counter value in output, got:\n%s", body)
	}
	if !strings.Contains(body, "active_jobs 2") {
		t.Fatalf("expected gauge value in output, got:\n%s", body)
	}
}

func TestRegisterCustomCollector(t *testing.T) {
	c := New()
	custom := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "handler_custom_total",
		Help: "A handler-defined custom metric.",
	})
	custom.Add(5)
	c.Register(custom)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	c.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), "handler_custom_total 5") {
		t.Fatalf("expected custom collector to appear in render output, got:\n%s", rec.Body.String())
	}
}
