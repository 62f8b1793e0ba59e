package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	PoolIdleConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphbolt_pool_idle_connections",
			Help: "Number of idle pooled connections by address",
		},
		[]string{"address"},
	)

	PoolActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graphbolt_pool_active_connections",
			Help: "Number of connections currently checked out by address",
		},
		[]string{"address"},
	)

	AcquisitionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "graphbolt_pool_acquisition_duration_seconds",
			Help:    "Time spent waiting to acquire a connection from the pool",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"address"},
	)

	// Connection metrics
	ConnectionsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphbolt_connections_created_total",
			Help: "Total number of connections dialed and initialized",
		},
		[]string{"address"},
	)

	ConnectionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphbolt_connections_closed_total",
			Help: "Total number of connections closed, by reason",
		},
		[]string{"address", "reason"},
	)

	// Routing metrics
	RoutingTableRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphbolt_routing_table_refresh_total",
			Help: "Total number of routing table rediscovery attempts, by outcome",
		},
		[]string{"outcome"},
	)

	RoutingTableRefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphbolt_routing_table_refresh_duration_seconds",
			Help:    "Time taken to rediscover a routing table",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Managed transaction metrics
	ManagedTransactionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graphbolt_managed_transaction_retries_total",
			Help: "Total number of managed transaction retries, by classified error kind",
		},
		[]string{"kind"},
	)

	ManagedTransactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "graphbolt_managed_transaction_duration_seconds",
			Help:    "Time taken for a managed transaction to succeed or give up",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(PoolIdleConnections)
	prometheus.MustRegister(PoolActiveConnections)
	prometheus.MustRegister(AcquisitionDuration)
	prometheus.MustRegister(ConnectionsCreatedTotal)
	prometheus.MustRegister(ConnectionsClosedTotal)
	prometheus.MustRegister(RoutingTableRefreshTotal)
	prometheus.MustRegister(RoutingTableRefreshDuration)
	prometheus.MustRegister(ManagedTransactionRetriesTotal)
	prometheus.MustRegister(ManagedTransactionDuration)
}

// Handler returns the Prometheus HTTP handler, for hosts that want to expose
// driver-internal metrics alongside their own.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
