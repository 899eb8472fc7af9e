package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and
// the nightly planner.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	plannerRuns     prometheus.Counter
	plannerDuration prometheus.Histogram
	classesCreated  prometheus.Counter
	classesSkipped  *prometheus.CounterVec
	assignments     *prometheus.CounterVec
	backfills       *prometheus.CounterVec
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	plannerRuns := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_runs_total",
		Help: "Total planner executions",
	})

	plannerDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planner_run_duration_seconds",
		Help:    "Duration of planner executions",
		Buckets: prometheus.DefBuckets,
	})

	classesCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planner_classes_created_total",
		Help: "Classes persisted by the planner",
	})

	classesSkipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_classes_skipped_total",
		Help: "Candidate classes the planner discarded",
	}, []string{"reason"})

	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "teacher_assignments_total",
		Help: "Teacher assignments by class kind",
	}, []string{"kind"})

	backfills := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_classes_total",
		Help: "Backup classes created after conflicts",
	}, []string{"kind"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses,
		plannerRuns, plannerDuration, classesCreated, classesSkipped, assignments, backfills, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		plannerRuns:     plannerRuns,
		plannerDuration: plannerDuration,
		classesCreated:  classesCreated,
		classesSkipped:  classesSkipped,
		assignments:     assignments,
		backfills:       backfills,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}

// ObservePlannerRun records one planner execution.
func (m *MetricsService) ObservePlannerRun(duration time.Duration, created int) {
	if m == nil {
		return
	}
	m.plannerRuns.Inc()
	m.plannerDuration.Observe(duration.Seconds())
	m.classesCreated.Add(float64(created))
}

// RecordPlannerSkip counts a discarded candidate class.
func (m *MetricsService) RecordPlannerSkip(reason string) {
	if m == nil {
		return
	}
	m.classesSkipped.WithLabelValues(reason).Inc()
}

// RecordAssignment counts a completed teacher assignment.
func (m *MetricsService) RecordAssignment(trial bool) {
	if m == nil {
		return
	}
	kind := "regular"
	if trial {
		kind = "trial"
	}
	m.assignments.WithLabelValues(kind).Inc()
}

// RecordBackfill counts a backup class created after a conflict.
func (m *MetricsService) RecordBackfill(kind string) {
	if m == nil {
		return
	}
	m.backfills.WithLabelValues(kind).Inc()
}
