package pebblestore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics implements MetricsHook backed by Prometheus collectors.
type PromMetrics struct {
	writeBytes   prometheus.Counter
	readBytes    prometheus.Counter
	commits      prometheus.Counter
	commitOps    prometheus.Counter
	writeLatency prometheus.Histogram
	readLatency  prometheus.Histogram
	commitLat    prometheus.Histogram
}

// NewPromMetrics builds the collectors and registers them with reg.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	m := &PromMetrics{
		writeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatlog", Subsystem: "store", Name: "write_bytes_total",
			Help: "Total bytes written via point writes.",
		}),
		readBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatlog", Subsystem: "store", Name: "read_bytes_total",
			Help: "Total bytes read via point reads.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatlog", Subsystem: "store", Name: "batch_commits_total",
			Help: "Total committed batches.",
		}),
		commitOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatlog", Subsystem: "store", Name: "batch_ops_total",
			Help: "Total operations across committed batches.",
		}),
		writeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatlog", Subsystem: "store", Name: "write_seconds",
			Help:    "Point write latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		readLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatlog", Subsystem: "store", Name: "read_seconds",
			Help:    "Point read latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		commitLat: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatlog", Subsystem: "store", Name: "batch_commit_seconds",
			Help:    "Batch commit latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.writeBytes, m.readBytes, m.commits, m.commitOps,
			m.writeLatency, m.readLatency, m.commitLat)
	}
	return m
}

func (m *PromMetrics) ObserveWrite(elapsed time.Duration, bytes int) {
	m.writeLatency.Observe(elapsed.Seconds())
	m.writeBytes.Add(float64(bytes))
}

func (m *PromMetrics) ObserveRead(elapsed time.Duration, bytes int) {
	m.readLatency.Observe(elapsed.Seconds())
	m.readBytes.Add(float64(bytes))
}

func (m *PromMetrics) ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int) {
	m.commitLat.Observe(elapsed.Seconds())
	m.commits.Inc()
	m.commitOps.Add(float64(numOps))
}
