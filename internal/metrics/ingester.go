package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingesterProcessBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingester",
		Name:      "process_block_total",
		Help:      "Count of observed blocks by outcome.",
	}, []string{"chain", "outcome", "status"})

	ingesterProcessBlockDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingester",
		Name:      "process_block_duration_seconds",
		Help:      "Duration of reconciling and committing one block.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"chain", "outcome", "status"})

	ingesterReorgDepth = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ingester",
		Name:      "reorg_depth_blocks",
		Help:      "Number of blocks undone per reorg.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	}, []string{"chain"})

	ingesterCommitRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingester",
		Name:      "commit_retries_total",
		Help:      "Count of retried durable commits.",
	}, []string{"chain"})

	ingesterCursorHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ingester",
		Name:      "cursor_height",
		Help:      "Height of the last durably committed block.",
	}, []string{"chain"})

	ingesterRunIterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ingester",
		Name:      "run_iterations_total",
		Help:      "Count of polling sessions by result.",
	}, []string{"chain", "status"})
)

// Ingester tracks metrics for the net-flow ingester pipeline.
type Ingester struct {
	chain string
}

// NewIngester constructs an Ingester with defaults.
func NewIngester(chain string) *Ingester {
	if chain == "" {
		chain = "unknown"
	}
	return &Ingester{chain: chain}
}

// ObserveProcessBlock records the outcome and duration of one block.
func (m Ingester) ObserveProcessBlock(outcome string, err error, started time.Time) {
	status := statusOf(err)
	ingesterProcessBlockTotal.WithLabelValues(m.chain, outcome, status).Inc()
	ingesterProcessBlockDuration.WithLabelValues(m.chain, outcome, status).
		Observe(time.Since(started).Seconds())
}

// ObserveReorg records the depth of a reconciled reorg.
func (m Ingester) ObserveReorg(depth int) {
	ingesterReorgDepth.WithLabelValues(m.chain).Observe(float64(depth))
}

// ObserveCommitRetry counts a retried durable commit.
func (m Ingester) ObserveCommitRetry() {
	ingesterCommitRetriesTotal.WithLabelValues(m.chain).Inc()
}

// ObserveCursor records the committed cursor height.
func (m Ingester) ObserveCursor(height uint64) {
	ingesterCursorHeight.WithLabelValues(m.chain).Set(float64(height))
}

// ObserveRun records the end of a polling session.
func (m Ingester) ObserveRun(err error) {
	ingesterRunIterationsTotal.WithLabelValues(m.chain, statusOf(err)).Inc()
}
