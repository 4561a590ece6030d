// Package metrics provides Prometheus instrumentation for the RQ backend:
// tree operation counts, the durable queue's depth, and the sync
// processor's attempt/retry/conflict/purge counters. Grounded on the
// teacher's pkg/metadata/lock.Metrics (constructor takes a
// prometheus.Registerer, every observer method is nil-safe so a caller can
// pass a nil *Metrics with zero overhead when metrics are disabled).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values for the tree dimension.
const (
	TreeRemote = "remote"
	TreeLocal  = "local"
	TreeWork   = "work"
)

// Label values for outcome/status.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds every Prometheus collector the RQ backend reports. The zero
// value is not usable; build one with New.
type Metrics struct {
	treeOperations *prometheus.CounterVec
	treeErrors     *prometheus.CounterVec
	cacheFills     prometheus.Counter
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	readBytes      prometheus.Histogram
	writeBytes     prometheus.Histogram

	queueDepth   prometheus.Gauge
	queueQueued  *prometheus.CounterVec
	queuePurged  prometheus.Counter

	syncAttempts      *prometheus.CounterVec
	syncDuration      *prometheus.HistogramVec
	syncRetries       prometheus.Counter
	syncConflicts     prometheus.Counter
	syncAborts        prometheus.Counter
	syncActiveGauge   prometheus.Gauge

	registered bool
}

// New creates and, if registry is non-nil, registers the RQ backend's
// metrics. Passing a nil registry is useful for tests: the collectors still
// work, they are simply never exposed on a /metrics endpoint.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		treeOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "tree",
				Name:      "operations_total",
				Help:      "Total tree operations by tree tier, operation name, and outcome.",
			},
			[]string{"tree", "op", "status"},
		),
		treeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "tree",
				Name:      "errors_total",
				Help:      "Total tree operation failures by tree tier and error code.",
			},
			[]string{"tree", "code"},
		),
		cacheFills: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "cache",
				Name:      "fills_total",
				Help:      "Total number of times a remote file was fetched into the local cache.",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total cacheFile calls that found an already-valid local copy.",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total cacheFile calls that required a fetch or re-fetch.",
			},
		),
		readBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "rqmirror",
				Subsystem: "tree",
				Name:      "read_bytes",
				Help:      "Distribution of bytes read per ReadAt call.",
				Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
			},
		),
		writeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "rqmirror",
				Subsystem: "tree",
				Name:      "write_bytes",
				Help:      "Distribution of bytes written per WriteAt call.",
				Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
			},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rqmirror",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Current number of pending entries in the durable request queue.",
			},
		),
		queueQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "queue",
				Name:      "requests_total",
				Help:      "Total queue entries admitted, by method.",
			},
			[]string{"method"},
		),
		queuePurged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "queue",
				Name:      "purged_total",
				Help:      "Total queue entries purged after exhausting their retry budget.",
			},
		),

		syncAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "sync",
				Name:      "attempts_total",
				Help:      "Total sync processor attempts by wire method and outcome.",
			},
			[]string{"method", "status"},
		),
		syncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rqmirror",
				Subsystem: "sync",
				Name:      "duration_seconds",
				Help:      "Time taken to apply a single queue entry.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		syncRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "sync",
				Name:      "retries_total",
				Help:      "Total retry-count increments applied to queue entries.",
			},
		),
		syncConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "sync",
				Name:      "conflicts_total",
				Help:      "Total syncconflict events emitted.",
			},
		),
		syncAborts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "rqmirror",
				Subsystem: "sync",
				Name:      "aborts_total",
				Help:      "Total in-flight syncs cancelled by a superseding local write.",
			},
		),
		syncActiveGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "rqmirror",
				Subsystem: "sync",
				Name:      "active_requests",
				Help:      "Current number of in-flight sync requests.",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.treeOperations,
			m.treeErrors,
			m.cacheFills,
			m.cacheHits,
			m.cacheMisses,
			m.readBytes,
			m.writeBytes,
			m.queueDepth,
			m.queueQueued,
			m.queuePurged,
			m.syncAttempts,
			m.syncDuration,
			m.syncRetries,
			m.syncConflicts,
			m.syncAborts,
			m.syncActiveGauge,
		)
		m.registered = true
	}

	return m
}

// ObserveTreeOp records a completed tree operation.
func (m *Metrics) ObserveTreeOp(treeName, op string, err error) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.treeOperations.WithLabelValues(treeName, op, status).Inc()
}

// ObserveTreeError records a tree operation failure tagged with its error
// code, in addition to the generic ObserveTreeOp status.
func (m *Metrics) ObserveTreeError(treeName, code string) {
	if m == nil {
		return
	}
	m.treeErrors.WithLabelValues(treeName, code).Inc()
}

// ObserveCacheFill records a remote fetch into the local cache.
func (m *Metrics) ObserveCacheFill() {
	if m == nil {
		return
	}
	m.cacheFills.Inc()
}

// ObserveCacheResult records whether cacheFile found a valid local copy.
func (m *Metrics) ObserveCacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// ObserveRead records the size of a completed ReadAt.
func (m *Metrics) ObserveRead(bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.readBytes.Observe(float64(bytes))
}

// ObserveWrite records the size of a completed WriteAt.
func (m *Metrics) ObserveWrite(bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.writeBytes.Observe(float64(bytes))
}

// SetQueueDepth reports the queue's current pending-entry count.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveQueued records a newly admitted (or coalesced) queue entry.
func (m *Metrics) ObserveQueued(method string) {
	if m == nil {
		return
	}
	m.queueQueued.WithLabelValues(method).Inc()
}

// ObservePurged records count purged, poisoned queue entries.
func (m *Metrics) ObservePurged(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.queuePurged.Add(float64(count))
}

// ObserveSyncAttempt records the outcome and duration of one processor
// apply() call.
func (m *Metrics) ObserveSyncAttempt(method string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.syncAttempts.WithLabelValues(method, status).Inc()
	m.syncDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveSyncRetry records a retry-count increment.
func (m *Metrics) ObserveSyncRetry() {
	if m == nil {
		return
	}
	m.syncRetries.Inc()
}

// ObserveSyncConflict records a syncconflict event.
func (m *Metrics) ObserveSyncConflict() {
	if m == nil {
		return
	}
	m.syncConflicts.Inc()
}

// ObserveSyncAbort records a cancelled in-flight sync.
func (m *Metrics) ObserveSyncAbort() {
	if m == nil {
		return
	}
	m.syncAborts.Inc()
}

// SetActiveSyncs reports the processor's current in-flight request count.
func (m *Metrics) SetActiveSyncs(n int) {
	if m == nil {
		return
	}
	m.syncActiveGauge.Set(float64(n))
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	if m == nil || !m.registered {
		return
	}
	m.treeOperations.Describe(ch)
	m.treeErrors.Describe(ch)
	ch <- m.cacheFills.Desc()
	ch <- m.cacheHits.Desc()
	ch <- m.cacheMisses.Desc()
	ch <- m.readBytes.Desc()
	ch <- m.writeBytes.Desc()
	ch <- m.queueDepth.Desc()
	m.queueQueued.Describe(ch)
	ch <- m.queuePurged.Desc()
	m.syncAttempts.Describe(ch)
	m.syncDuration.Describe(ch)
	ch <- m.syncRetries.Desc()
	ch <- m.syncConflicts.Desc()
	ch <- m.syncAborts.Desc()
	ch <- m.syncActiveGauge.Desc()
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m == nil || !m.registered {
		return
	}
	m.treeOperations.Collect(ch)
	m.treeErrors.Collect(ch)
	ch <- m.cacheFills
	ch <- m.cacheHits
	ch <- m.cacheMisses
	ch <- m.readBytes
	ch <- m.writeBytes
	ch <- m.queueDepth
	m.queueQueued.Collect(ch)
	ch <- m.queuePurged
	m.syncAttempts.Collect(ch)
	m.syncDuration.Collect(ch)
	ch <- m.syncRetries
	ch <- m.syncConflicts
	ch <- m.syncAborts
	ch <- m.syncActiveGauge
}
