package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	repositoryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "repository",
		Name:      "operations_total",
		Help:      "Count of repository operations.",
	}, []string{"operation", "store", "status"})
	repositoryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "repository",
		Name:      "operation_duration_seconds",
		Help:      "Duration of repository operations.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"operation", "store", "status"})
)

// Repository tracks metrics for storage operations of one store.
type Repository struct {
	store string
}

// NewRepository creates a Repository metrics collector labelled with store.
func NewRepository(store string) *Repository {
	if store == "" {
		store = "unknown"
	}
	return &Repository{store: store}
}

// Observe records duration and status of a repository operation.
func (m Repository) Observe(operation string, err error, started time.Time) {
	status := statusOf(err)
	repositoryRequestsTotal.WithLabelValues(operation, m.store, status).Inc()
	repositoryRequestDuration.WithLabelValues(operation, m.store, status).Observe(time.Since(started).Seconds())
}
