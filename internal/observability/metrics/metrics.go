package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "vehicle_stats_"

// Result label values for cycle and fetch metrics.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	cycleTotal   *prometheus.CounterVec
	cycleLatency *prometheus.HistogramVec

	fetchTotal   *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	recordsNormalized prometheus.Counter
	recordsWritten    prometheus.Counter
	writeFailures     prometheus.Counter

	queueLength    prometheus.Gauge
	queueTruncated prometheus.Counter

	eventsTotal *prometheus.CounterVec
)

func init() {
	newCollectors()
}

func newCollectors() {
	cycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "cycle_total",
			Help: "Total delivery cycles by result",
		},
		[]string{"result"},
	)
	cycleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "cycle_latency_seconds",
			Help:    "Delivery cycle latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "fetch_total",
			Help: "Total vehicle stats fetches by result",
		},
		[]string{"result"},
	)
	fetchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "fetch_latency_seconds",
			Help:    "Vehicle stats fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	recordsNormalized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "records_normalized_total",
			Help: "Total records produced by normalization",
		},
	)
	recordsWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "records_written_total",
			Help: "Total records durably written (inserted or already present)",
		},
	)
	writeFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "write_failures_total",
			Help: "Total record writes that failed and were requeued",
		},
	)

	queueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "queue_length",
			Help: "Records buffered in the pending delivery queue",
		},
	)
	queueTruncated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "queue_truncated_total",
			Help: "Records discarded by the queue capacity bound",
		},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "events_total",
			Help: "Total diagnostic events by kind and severity",
		},
		[]string{"kind", "severity"},
	)
}

// Init registers the collectors with the default registry.
func Init() {
	InitWith(prometheus.DefaultRegisterer)
}

// InitWith registers the collectors with reg. Only the first call registers.
func InitWith(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			cycleTotal,
			cycleLatency,
			fetchTotal,
			fetchLatency,
			recordsNormalized,
			recordsWritten,
			writeFailures,
			queueLength,
			queueTruncated,
			eventsTotal,
		)
	})
}

// ObserveCycle records delivery cycle duration and result.
func ObserveCycle(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	cycleTotal.WithLabelValues(result).Inc()
	cycleLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveFetch records fetch duration and result.
func ObserveFetch(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	fetchTotal.WithLabelValues(result).Inc()
	fetchLatency.WithLabelValues(result).Observe(duration.Seconds())
}

// AddRecordsNormalized increments the normalized record counter by count.
func AddRecordsNormalized(count int) {
	if count <= 0 {
		return
	}
	recordsNormalized.Add(float64(count))
}

// AddRecordsWritten increments the written record counter by count.
func AddRecordsWritten(count int) {
	if count <= 0 {
		return
	}
	recordsWritten.Add(float64(count))
}

// AddWriteFailures increments the write failure counter by count.
func AddWriteFailures(count int) {
	if count <= 0 {
		return
	}
	writeFailures.Add(float64(count))
}

// SetQueueLength sets the pending queue gauge.
func SetQueueLength(length int) {
	if length < 0 {
		length = 0
	}
	queueLength.Set(float64(length))
}

// AddQueueTruncated increments the truncation counter by count.
func AddQueueTruncated(count int) {
	if count <= 0 {
		return
	}
	queueTruncated.Add(float64(count))
}

// IncEvent counts a diagnostic event.
func IncEvent(kind, severity string) {
	if kind == "" {
		kind = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}
	eventsTotal.WithLabelValues(kind, severity).Inc()
}
