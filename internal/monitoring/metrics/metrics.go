// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package metrics exposes the operational metrics of version tables as
// Prometheus collectors.
//
// Every Metrics value owns its own registry, so several tables or tests can
// create one without colliding on collector names.
//
// # Usage Examples
//
//	m := metrics.New("verchain")
//	start := time.Now()
//	entry, err := table.GetVersionEntryByKey(ctx, key, vk)
//	m.RecordOp(metrics.OpRead, time.Since(start))
//	if err != nil {
//	    m.RecordError(metrics.OpRead)
//	}
//
//	http.Handle("/metrics", m.Handler())
//
// # Nil Receivers
//
// All methods accept a nil *Metrics and do nothing, so components can be
// built without metrics.
//
// # Exported Series
//
//   - <ns>_version_ops_total{op}: operations executed
//   - <ns>_version_op_duration_seconds{op}: operation latency
//   - <ns>_version_op_errors_total{op}: backend faults and malformed requests
//   - <ns>_version_op_outcomes_total{op,outcome}: results of optimistic updates
//   - <ns>_partition_queue_depth{partition}: requests waiting per partition
//   - <ns>_version_list_length: versions returned by list reads
package metrics

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Operation labels.
const (
	OpRead         = "read"
	OpReadBatch    = "read_batch"
	OpGetList      = "get_list"
	OpInitList     = "init_list"
	OpReplace      = "replace"
	OpReplaceWhole = "replace_whole"
	OpUpload       = "upload"
	OpDelete       = "delete"
	OpMaxCommitTs  = "update_max_commit_ts"
	OpEnqueue      = "enqueue"
	OpCreateTable  = "create_table"
	OpDropTable    = "drop_table"
)

// DefaultNamespace prefixes every series when no namespace is configured.
const DefaultNamespace = "verchain"

// Metrics holds the collectors of one process or table set.
type Metrics struct {
	registry    *prometheus.Registry
	ops         *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	errors      *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
	chainLength prometheus.Histogram
}

// New creates and registers the collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_ops_total",
			Help:      "Version table operations executed.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "version_op_duration_seconds",
			Help:      "Latency of version table operations.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, []string{"op"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_op_errors_total",
			Help:      "Version table operations that returned an error.",
		}, []string{"op"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_op_outcomes_total",
			Help:      "Outcomes of optimistic version updates.",
		}, []string{"op", "outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partition_queue_depth",
			Help:      "Requests waiting in a partition queue.",
		}, []string{"table", "partition"}),
		chainLength: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "version_list_length",
			Help:      "Number of versions returned by version list reads.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
	}
	m.registry.MustRegister(m.ops, m.latency, m.errors, m.outcomes, m.queueDepth, m.chainLength)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordOp counts one operation and observes its latency.
func (m *Metrics) RecordOp(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op).Inc()
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordError counts one failed operation.
func (m *Metrics) RecordError(op string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(op).Inc()
}

// RecordOutcome counts the outcome of an optimistic update.
func (m *Metrics) RecordOutcome(op, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(op, outcome).Inc()
}

// SetQueueDepth publishes the number of requests waiting on a partition of
// the named table.
func (m *Metrics) SetQueueDepth(table string, partition, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(table, strconv.Itoa(partition)).Set(float64(depth))
}

// ObserveChainLength records the length of a version list read.
func (m *Metrics) ObserveChainLength(n int) {
	if m == nil {
		return
	}
	m.chainLength.Observe(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ExportText renders every collected series in the text exposition format.
func (m *Metrics) ExportText() (string, error) {
	if m == nil {
		return "", nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return "", errors.Wrap(err, "gathering metrics")
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", errors.Wrapf(err, "encoding %s", mf.GetName())
		}
	}
	return buf.String(), nil
}
