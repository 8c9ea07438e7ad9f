// Package metrics exposes the kernel's Prometheus instrumentation
// (spec.md's AMBIENT STACK expansion): WAL commit latency, fsync
// failures, open-transaction counts per terminal, and lock-reclamation
// events. Every metric is registered against its own Registry rather
// than the global default, so multiple Kernel instances (e.g. in tests)
// never collide on metric names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the kernel's metric collectors together with the
// prometheus.Registerer they were registered against.
type Registry struct {
	registry *prometheus.Registry

	WalCommitSeconds    prometheus.Histogram
	WalFsyncFailures    prometheus.Counter
	OpenTransactions    *prometheus.GaugeVec
	LockReclamations    prometheus.Counter
	RequestsTotal       *prometheus.CounterVec
	RequestFailuresTotal *prometheus.CounterVec
}

// New builds a fresh Registry with all kernel collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		WalCommitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "poskernel",
			Subsystem: "wal",
			Name:      "commit_seconds",
			Help:      "Latency of one WAL append, from encode through fsync.",
			Buckets:   prometheus.DefBuckets,
		}),
		WalFsyncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poskernel",
			Subsystem: "wal",
			Name:      "fsync_failures_total",
			Help:      "Number of fsync failures that forced a terminal into read-only mode.",
		}),
		OpenTransactions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "poskernel",
			Subsystem: "kernel",
			Name:      "open_transactions",
			Help:      "Number of transactions currently in the Building or ReadyForPayment state, by terminal.",
		}, []string{"terminal_id"}),
		LockReclamations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "poskernel",
			Subsystem: "terminal",
			Name:      "lock_reclamations_total",
			Help:      "Number of times a stale terminal lock was reclaimed from a dead owner.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poskernel",
			Subsystem: "kernel",
			Name:      "requests_total",
			Help:      "RequestSurface operations served, by operation name.",
		}, []string{"operation"}),
		RequestFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "poskernel",
			Subsystem: "kernel",
			Name:      "request_failures_total",
			Help:      "RequestSurface operations that returned an error, by operation and error code.",
		}, []string{"operation", "code"}),
	}

	reg.MustRegister(
		r.WalCommitSeconds,
		r.WalFsyncFailures,
		r.OpenTransactions,
		r.LockReclamations,
		r.RequestsTotal,
		r.RequestFailuresTotal,
	)
	return r
}

// Gatherer exposes the underlying registry for wiring into an
// http.Handler (promhttp.HandlerFor) on the reference transport's
// /metrics endpoint.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }
