package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results used as the result label.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics counts and times wrapped GCP operations. It implements
// gcp.Recorder so it can be passed to any service package with
// gcp.WithRecorder.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the gcpal operation metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gcpal",
			Name:      "operations_total",
			Help:      "Total number of GCP operations by service, operation and result.",
		}, []string{"service", "op", "result"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gcpal",
			Name:      "operation_duration_seconds",
			Help:      "Histogram of GCP operation latency (seconds).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "op"}),
	}
}

// Observe records one operation.
func (m *Metrics) Observe(service, op string, d time.Duration, err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.operations.WithLabelValues(service, op, result).Inc()
	m.duration.WithLabelValues(service, op).Observe(d.Seconds())
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.operations.Describe(ch)
	m.duration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.operations.Collect(ch)
	m.duration.Collect(ch)
}

var (
	// TelemetrySystem is the process metrics set, nil until InitTelemetry.
	TelemetrySystem *Metrics

	// PrometheusExporter is the registry served on /metrics.
	PrometheusExporter *prometheus.Registry
)

// InitTelemetry creates the metrics and a registry holding them plus the Go
// and process collectors. It is safe to call more than once; later calls
// replace the previous registry.
func InitTelemetry() (*Metrics, *prometheus.Registry, error) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		m,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, nil, err
		}
	}
	TelemetrySystem = m
	PrometheusExporter = reg
	return m, reg, nil
}
