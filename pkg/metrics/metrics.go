package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Row-count gauges, refreshed by Collector.
	TransformsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stagein_transforms_total",
			Help: "Total number of transforms by status",
		},
		[]string{"status"},
	)

	ProcessingsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stagein_processings_total",
			Help: "Total number of processings by status",
		},
		[]string{"status"},
	)

	MessagesPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stagein_messages_pending",
			Help: "Number of outbox messages not yet delivered",
		},
	)

	// Claim/lock-contention counters.
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagein_claims_total",
			Help: "Total number of rows claimed for processing by entity",
		},
		[]string{"entity"},
	)

	LockReapsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagein_lock_reaps_total",
			Help: "Total number of stale locks reclaimed by entity",
		},
		[]string{"entity"},
	)

	// Agent tick metrics.
	TransformTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stagein_transform_tick_duration_seconds",
			Help:    "Time taken for one transform agent tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	TransformTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stagein_transform_ticks_total",
			Help: "Total number of transform agent ticks completed",
		},
	)

	ProcessingTickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stagein_processing_tick_duration_seconds",
			Help:    "Time taken for one processing agent tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ProcessingTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stagein_processing_ticks_total",
			Help: "Total number of processing agent ticks completed",
		},
	)

	// DataService call latency, labeled by the capability invoked
	// (get_metadata, list_files, add_rule, get_rule, list_locks).
	DataServiceCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stagein_dataservice_call_duration_seconds",
			Help:    "DataService call duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DataServiceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagein_dataservice_errors_total",
			Help: "Total DataService call failures by operation",
		},
		[]string{"operation"},
	)

	// Outbox delivery metrics.
	MessagesDeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stagein_messages_delivered_total",
			Help: "Total number of outbox messages marked delivered",
		},
	)
)

func init() {
	prometheus.MustRegister(TransformsTotal)
	prometheus.MustRegister(ProcessingsTotal)
	prometheus.MustRegister(MessagesPending)
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(LockReapsTotal)
	prometheus.MustRegister(TransformTickDuration)
	prometheus.MustRegister(TransformTicksTotal)
	prometheus.MustRegister(ProcessingTickDuration)
	prometheus.MustRegister(ProcessingTicksTotal)
	prometheus.MustRegister(DataServiceCallDuration)
	prometheus.MustRegister(DataServiceErrorsTotal)
	prometheus.MustRegister(MessagesDeliveredTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
