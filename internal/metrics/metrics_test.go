package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{303, "3xx"},
		{400, "4xx"},
		{409, "4xx"},
		{500, "5xx"},
		{502, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestResult(t *testing.T) {
	if got := Result(nil); got != "ok" {
		t.Errorf("Result(nil) = %s, want ok", got)
	}
	if got := Result(errors.New("boom")); got != "error" {
		t.Errorf("Result(err) = %s, want error", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	// Gauges are always exported with a default 0 value.
	body := w.Body.String()
	if !strings.Contains(body, "qrfeedback_goroutines") {
		t.Error("Expected qrfeedback_goroutines gauge in metrics output")
	}

	// Counters only appear after the first observation.
	ActivationsTotal.WithLabelValues("ok").Inc()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "qrfeedback_activations_total") {
		t.Error("Expected qrfeedback_activations_total after incrementing")
	}
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestMiddleware_CountsByRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/q/:code", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for _, code := range []string{"abc", "def"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/q/"+code, nil))
	}

	counter, err := HTTPRequestsTotal.GetMetricWithLabelValues("GET", "/v1/q/:code", "4xx")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	m := &dto.Metric{}
	_ = counter.Write(m)
	if m.Counter.GetValue() != 2 {
		t.Errorf("expected 2 requests counted under the route pattern, got %f", m.Counter.GetValue())
	}

	ch := make(chan prometheus.Metric, 10)
	HTTPRequestDuration.Collect(ch)
	close(ch)

	var samples uint64
	for metric := range ch {
		m := &dto.Metric{}
		_ = metric.Write(m)
		if m.Histogram != nil {
			samples += m.Histogram.GetSampleCount()
		}
	}
	if samples != 2 {
		t.Errorf("expected 2 latency samples, got %d", samples)
	}
}

func TestDomainCounters(t *testing.T) {
	GuardDecisionsTotal.Reset()
	GuardDecisionsTotal.WithLabelValues("inactive").Inc()
	GuardDecisionsTotal.WithLabelValues("inactive").Inc()
	GuardDecisionsTotal.WithLabelValues("allow").Inc()

	m := &dto.Metric{}
	_ = GuardDecisionsTotal.WithLabelValues("inactive").Write(m)
	if m.Counter.GetValue() != 2 {
		t.Errorf("expected 2 inactive decisions, got %f", m.Counter.GetValue())
	}
}
