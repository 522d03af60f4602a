package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notifierDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifier",
		Name:      "deliveries_total",
		Help:      "Count of post-commit deliveries per sink.",
	}, []string{"sink", "status"})
	notifierDeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "notifier",
		Name:      "delivery_duration_seconds",
		Help:      "Duration of post-commit deliveries per sink.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sink", "status"})
)

// Notifier tracks deliveries of committed blocks to a downstream sink.
type Notifier struct {
	sink string
}

// NewNotifier creates a Notifier metrics collector for sink.
func NewNotifier(sink string) *Notifier {
	if sink == "" {
		sink = "unknown"
	}
	return &Notifier{sink: sink}
}

// Observe records one delivery.
func (m Notifier) Observe(err error, started time.Time) {
	status := statusOf(err)
	notifierDeliveriesTotal.WithLabelValues(m.sink, status).Inc()
	notifierDeliveryDuration.WithLabelValues(m.sink, status).Observe(time.Since(started).Seconds())
}
