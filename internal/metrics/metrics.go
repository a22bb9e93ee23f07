// Package metrics provides proof-pipeline metrics collection.
// It wraps Prometheus collectors on a private registry so the exported
// /metrics endpoint carries only this service's series.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector provides pipeline metrics collection.
type Collector struct {
	registry *prometheus.Registry

	// Proof lifecycle metrics
	proofsGenerated *prometheus.CounterVec
	proofsSubmitted *prometheus.CounterVec
	statusUpdates   *prometheus.CounterVec

	// Batch driver metrics
	batchDuration *prometheus.HistogramVec
	batchSize     *prometheus.HistogramVec

	// Oracle metrics
	oracleCalls   *prometheus.CounterVec
	oracleLatency *prometheus.HistogramVec

	// Relay metrics
	relayDispatches *prometheus.CounterVec
}

// NewCollector creates a pipeline metrics collector.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "proof_service"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.proofsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proofs",
			Name:      "generated_total",
			Help:      "Total number of proof generation attempts",
		},
		[]string{"result"},
	)

	c.proofsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proofs",
			Name:      "submitted_total",
			Help:      "Total number of proof submission attempts",
		},
		[]string{"result"},
	)

	c.statusUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proofs",
			Name:      "status_updates_total",
			Help:      "Total number of relay status transitions observed",
		},
		[]string{"status"},
	)

	c.batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Time taken to run one batch pass",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
		},
		[]string{"driver"},
	)

	c.batchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "size",
			Help:      "Number of records processed per batch pass",
			Buckets:   prometheus.LinearBuckets(0, 10, 6), // 0 to 50
		},
		[]string{"driver"},
	)

	c.oracleCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Total number of permission oracle calls",
		},
		[]string{"operation", "result"},
	)

	c.oracleLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "duration_seconds",
			Help:      "Time taken for permission oracle calls",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"operation"},
	)

	c.relayDispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dispatches_total",
			Help:      "Total number of sponsored-call dispatches",
		},
		[]string{"result"},
	)

	c.registry.MustRegister(
		c.proofsGenerated,
		c.proofsSubmitted,
		c.statusUpdates,
		c.batchDuration,
		c.batchSize,
		c.oracleCalls,
		c.oracleLatency,
		c.relayDispatches,
	)

	return c
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordGeneration records one proof generation attempt.
func (c *Collector) RecordGeneration(err error) {
	c.proofsGenerated.WithLabelValues(resultLabel(err)).Inc()
}

// RecordSubmission records one proof submission attempt.
func (c *Collector) RecordSubmission(err error) {
	c.proofsSubmitted.WithLabelValues(resultLabel(err)).Inc()
}

// RecordStatusUpdate records a relay status transition.
func (c *Collector) RecordStatusUpdate(status string) {
	c.statusUpdates.WithLabelValues(status).Inc()
}

// RecordBatch records one driver batch pass.
func (c *Collector) RecordBatch(driver string, size int, duration time.Duration) {
	c.batchDuration.WithLabelValues(driver).Observe(duration.Seconds())
	c.batchSize.WithLabelValues(driver).Observe(float64(size))
}

// RecordOracleCall records one permission oracle call.
func (c *Collector) RecordOracleCall(operation string, duration time.Duration, err error) {
	c.oracleCalls.WithLabelValues(operation, resultLabel(err)).Inc()
	c.oracleLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRelayDispatch records one sponsored-call dispatch.
func (c *Collector) RecordRelayDispatch(err error) {
	c.relayDispatches.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// NoOpCollector discards all metrics.
type NoOpCollector struct{}

// NewNoOpCollector creates a no-op metrics collector.
func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (*NoOpCollector) RecordGeneration(err error)                                       {}
func (*NoOpCollector) RecordSubmission(err error)                                       {}
func (*NoOpCollector) RecordStatusUpdate(status string)                                 {}
func (*NoOpCollector) RecordBatch(driver string, size int, duration time.Duration)      {}
func (*NoOpCollector) RecordOracleCall(op string, duration time.Duration, err error)    {}
func (*NoOpCollector) RecordRelayDispatch(err error)                                    {}

// Recorder is the interface the pipeline records through.
type Recorder interface {
	RecordGeneration(err error)
	RecordSubmission(err error)
	RecordStatusUpdate(status string)
	RecordBatch(driver string, size int, duration time.Duration)
	RecordOracleCall(operation string, duration time.Duration, err error)
	RecordRelayDispatch(err error)
}

// Verify interface compliance
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = (*NoOpCollector)(nil)
)
