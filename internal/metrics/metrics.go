// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	jobAttemptsTotal           *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	artifactsTotal             *prometheus.CounterVec
	artifactDedupHitsTotal     prometheus.Counter
	itemsParsedTotal           prometheus.Counter
	scoreRecomputesTotal       prometheus.Counter
	externalCallDuration       *prometheus.HistogramVec
	externalCallFailures       *prometheus.CounterVec
	searchRequestsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menupipe_jobs_total",
				Help: "Total jobs reaching a terminal state, labeled by stage and status.",
			},
			[]string{"stage", "status"},
		)

		jobAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menupipe_job_attempts_total",
				Help: "Total job processing attempts, labeled by stage.",
			},
			[]string{"stage"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "menupipe_job_duration_seconds",
				Help:    "Histogram of per-attempt job durations, labeled by stage.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 180},
			},
			[]string{"stage"},
		)

		artifactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menupipe_artifacts_total",
				Help: "Total artifacts stored, labeled by MIME type.",
			},
			[]string{"mime"},
		)

		artifactDedupHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "menupipe_artifact_dedup_hits_total",
				Help: "Captures that matched an existing content hash.",
			},
		)

		itemsParsedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "menupipe_items_parsed_total",
				Help: "Menu items produced by the parse/merge stage.",
			},
		)

		scoreRecomputesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "menupipe_score_recomputes_total",
				Help: "Place score recomputations.",
			},
		)

		externalCallDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "menupipe_external_call_duration_seconds",
				Help:    "Latency of external capability calls, labeled by capability.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 60},
			},
			[]string{"capability"},
		)

		externalCallFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menupipe_external_call_failures_total",
				Help: "Failed external capability calls, labeled by capability.",
			},
			[]string{"capability"},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "menupipe_search_requests_total",
				Help: "Craving search requests, labeled by cache outcome.",
			},
			[]string{"cache"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveJob records a terminal job outcome.
func ObserveJob(stage, status string) {
	jobsTotal.WithLabelValues(stage, status).Inc()
}

// ObserveJobAttempt records one processing attempt and its duration.
func ObserveJobAttempt(stage string, duration time.Duration) {
	jobAttemptsTotal.WithLabelValues(stage).Inc()
	jobDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveArtifact records a stored artifact.
func ObserveArtifact(mime string, dedupHit bool) {
	artifactsTotal.WithLabelValues(mime).Inc()
	if dedupHit {
		artifactDedupHitsTotal.Inc()
	}
}

// ObserveItemsParsed adds to the parsed-item counter.
func ObserveItemsParsed(n int) {
	if n > 0 {
		itemsParsedTotal.Add(float64(n))
	}
}

// ObserveScoreRecompute counts one score recomputation.
func ObserveScoreRecompute() {
	scoreRecomputesTotal.Inc()
}

// ObserveExternalCall records latency and failure for a capability call.
func ObserveExternalCall(capability string, duration time.Duration, err error) {
	externalCallDuration.WithLabelValues(capability).Observe(duration.Seconds())
	if err != nil {
		externalCallFailures.WithLabelValues(capability).Inc()
	}
}

// ObserveSearch counts a craving search with its cache outcome.
func ObserveSearch(cacheOutcome string) {
	searchRequestsTotal.WithLabelValues(cacheOutcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
