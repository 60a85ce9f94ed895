// Package metrics provides optional prometheus instrumentation for
// store operations. It is grounded on the retrieved pack's own
// request/latency metric shape (rpcpool-yellowstone-faithful's
// metrics package registers counters and histograms for its own
// request path), adapted here to per-operation counters and latency
// histograms for put/get/delete/batch. Unlike that example's global
// promauto registrations, metrics here are created against a
// caller-supplied prometheus.Registerer so a store with no interest in
// metrics can pass nil and pay nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and histograms for one store's operations.
// A nil *Metrics is safe to call methods on; every method is a no-op in
// that case, so instrumentation can be threaded through unconditionally.
type Metrics struct {
	ops        *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	batchSplit prometheus.Counter
}

// New constructs Metrics registered against reg. A nil reg yields a nil
// *Metrics (instrumentation disabled) rather than panicking, so callers
// can write `m := metrics.New(cfg.Registerer)` unconditionally.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "centidb",
			Name:      "operations_total",
			Help:      "Store operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "centidb",
			Name:      "operation_latency_seconds",
			Help:      "Store operation latency in seconds, by kind.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12),
		}, []string{"op"}),
		batchSplit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "centidb",
			Name:      "batch_splits_total",
			Help:      "Number of batch records split back into singletons by a write.",
		}),
	}
	reg.MustRegister(m.ops, m.latency, m.batchSplit)
	return m
}

// Observe records one completed operation of the given kind, its
// outcome ("ok" or "error"), and how long it took.
func (m *Metrics) Observe(op string, err error, started time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ops.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// BatchSplit increments the batch-split counter.
func (m *Metrics) BatchSplit() {
	if m == nil {
		return
	}
	m.batchSplit.Inc()
}
