package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the session counters exported at /metrics.
type Metrics struct {
	Sessions       prometheus.Gauge
	Turns          *prometheus.CounterVec
	RenderOps      prometheus.Histogram
	RenderDuration prometheus.Histogram
	LockWait       prometheus.Histogram
	LockTimeouts   prometheus.Counter
	DroppedOps     prometheus.Counter
	Resyncs        *prometheus.CounterVec
	Pending        prometheus.Gauge
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "wtcore", Name: "sessions",
			Help: "Live sessions.",
		}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wtcore", Name: "turns_total",
			Help: "Completed turns by source and client state.",
		}, []string{"source", "state"}),
		RenderOps: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wtcore", Name: "render_ops",
			Help:    "DOM operations per incremental render.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		RenderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wtcore", Name: "render_duration_seconds",
			Help:    "Time spent diffing and serializing.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		LockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wtcore", Name: "update_lock_wait_seconds",
			Help:    "Time spent waiting for a session update lock.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		LockTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "wtcore", Name: "update_lock_timeouts_total",
			Help: "Acquisitions that gave up waiting.",
		}),
		DroppedOps: f.NewCounter(prometheus.CounterOpts{
			Namespace: "wtcore", Name: "dropped_ops_total",
			Help: "Operations dropped because they could not be encoded.",
		}),
		Resyncs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wtcore", Name: "resyncs_total",
			Help: "Full re-renders sent instead of a diff.",
		}, []string{"reason"}),
		Pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "wtcore", Name: "pending_payloads",
			Help: "Payloads buffered for clients without a push connection.",
		}),
	}
}
