package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the Prometheus metrics for the intervention
// coordinator, the challenge detector, and the HTTP control surface.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Intervention metrics
	interventionsTotal    *prometheus.CounterVec
	interventionsOpen     prometheus.Gauge
	interventionWait      *prometheus.HistogramVec
	statusTransitions     *prometheus.CounterVec
	runCancellationsTotal prometheus.Counter

	// Detector metrics
	detectorSnapshots *prometheus.CounterVec
	detectorTriggers  *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates and registers the metric set under the given
// namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.interventionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interventions_total",
			Help:      "Total number of intervention sessions by terminal status",
		},
		[]string{"category", "status"},
	)

	c.interventionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "interventions_open",
			Help:      "Number of intervention sessions currently awaiting a human",
		},
	)

	c.interventionWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "intervention_wait_seconds",
			Help:      "Time from session creation to terminal status",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"category"},
	)

	c.statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Total number of session status transitions",
		},
		[]string{"from", "to"},
	)

	c.runCancellationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_cancellations_total",
			Help:      "Total number of externally cancelled automation runs",
		},
	)

	c.detectorSnapshots = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_snapshots_total",
			Help:      "Total number of snapshots evaluated by the detector",
		},
		[]string{"triggered"},
	)

	c.detectorTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_triggers_total",
			Help:      "Total number of detector triggers by category",
		},
		[]string{"category"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records an HTTP request served by the control surface.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordInterventionOpened records a newly created session.
func (c *Collector) RecordInterventionOpened() {
	c.interventionsOpen.Inc()
}

// RecordInterventionClosed records a session reaching a terminal status.
func (c *Collector) RecordInterventionClosed(category, status string, wait time.Duration) {
	c.interventionsOpen.Dec()
	c.interventionsTotal.WithLabelValues(category, status).Inc()
	c.interventionWait.WithLabelValues(category).Observe(wait.Seconds())
}

// RecordStatusTransition records one edge of the session state machine.
func (c *Collector) RecordStatusTransition(from, to string) {
	c.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordRunCancellation records an external run abort.
func (c *Collector) RecordRunCancellation() {
	c.runCancellationsTotal.Inc()
}

// RecordDetection records one detector pass over a snapshot.
func (c *Collector) RecordDetection(triggered bool, category string) {
	label := "false"
	if triggered {
		label = "true"
		c.detectorTriggers.WithLabelValues(category).Inc()
	}
	c.detectorSnapshots.WithLabelValues(label).Inc()
}

// statusCode converts an HTTP status code to its class label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
