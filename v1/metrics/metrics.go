package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquiredCounter tracks successful lock claims.
	AcquiredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlock_acquired_total",
		Help: "Total number of successful lock acquisitions",
	})
	// ConflictCounter tracks claims rejected by a live foreign lease.
	ConflictCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlock_conflicts_total",
		Help: "Total number of claims that found the lock held",
	})
	// ReleasedCounter tracks completed releases, benign outcomes included.
	ReleasedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlock_released_total",
		Help: "Total number of lock releases",
	})
	// StoreErrorCounter tracks store operations that failed outright.
	StoreErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dlock_store_errors_total",
		Help: "Total number of lease store errors",
	})
	// HeldGauge reports locks currently held by this process.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dlock_held",
		Help: "Current number of locks held by this process",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers dlock core metrics on the provided registry.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquiredCounter, ConflictCounter, ReleasedCounter, StoreErrorCounter, HeldGauge)
}
