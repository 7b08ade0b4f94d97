// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmess_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartmess_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Predictions
	Predictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmess_predictions_total",
			Help: "Predictions served, by source (ml-model, fallback, closed)",
		},
		[]string{"source"},
	)

	ModelCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartmess_model_cache_hits_total",
			Help: "Model lookups answered from the in-memory cache",
		},
	)

	ModelCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartmess_model_cache_misses_total",
			Help: "Model lookups that went to the artifact store",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smartmess_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Training
	TrainingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmess_training_runs_total",
			Help: "Training runs by outcome",
		},
		[]string{"outcome"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smartmess_training_duration_seconds",
			Help:    "Wall time of a training run",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	TrainingInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartmess_training_in_progress",
			Help: "Number of training runs currently executing",
		},
	)

	// Attendance and reviews
	AttendanceMarked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmess_attendance_marked_total",
			Help: "Attendance rows written, by meal and method",
		},
		[]string{"meal", "method"},
	)

	ReviewsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmess_reviews_submitted_total",
			Help: "Reviews accepted, by meal",
		},
		[]string{"meal"},
	)

	// Retention
	RetentionRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmess_retention_rows_total",
			Help: "Rows removed or archived by retention sweeps",
		},
		[]string{"kind"},
	)

	// Notifications
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartmess_notifications_total",
			Help: "Web push deliveries by result",
		},
		[]string{"result"},
	)
)

// ObserveHTTP records one completed request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
