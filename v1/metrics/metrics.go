// Package metrics holds the Prometheus collectors shared by the cache
// manager and the lock coordinator. Collectors are always updated; they are
// only exported once registered on a registry.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	TierLocal       = "local"
	TierDistributed = "distributed"

	OutcomeAcquired  = "acquired"
	OutcomeContended = "contended"
	OutcomeError     = "error"
)

var (
	// HitCounter counts reads served from a tier, labelled by tier.
	HitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiercache_hits_total",
		Help: "Total number of cache hits by tier",
	}, []string{"tier"})
	// MissCounter counts reads that had to run the loader.
	MissCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_misses_total",
		Help: "Total number of reads that missed both tiers",
	})
	// LoaderErrorCounter counts failed loader calls.
	LoaderErrorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_loader_errors_total",
		Help: "Total number of failed loader calls",
	})
	// LoadDuration observes loader latency.
	LoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tiercache_load_duration_seconds",
		Help:    "Latency of loader calls",
		Buckets: prometheus.DefBuckets,
	})
	// SetCounter tracks values written to both tiers.
	SetCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_set_total",
		Help: "Total number of cache writes",
	})
	// RemoveCounter tracks single key removals.
	RemoveCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_remove_total",
		Help: "Total number of key removals",
	})
	// PrefixRemoveCounter tracks prefix removals.
	PrefixRemoveCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_prefix_remove_total",
		Help: "Total number of prefix removals",
	})
	// RegistryKeysGauge reports the keys currently tracked by the registry.
	RegistryKeysGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tiercache_registry_keys",
		Help: "Current number of keys tracked by the local registry",
	})

	// LockCounter counts lock attempts by outcome (acquired, contended, error).
	LockCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tiercache_lock_attempts_total",
		Help: "Total number of lock attempts by outcome",
	}, []string{"outcome"})
	// HeartbeatCounter counts heartbeat ticks.
	HeartbeatCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_heartbeat_ticks_total",
		Help: "Total number of heartbeat ticks",
	})
	// CancelCounter counts tasks stopped by a remote cancel.
	CancelCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tiercache_task_cancellations_total",
		Help: "Total number of heartbeat tasks stopped by cancellation",
	})
	// RunningTasksGauge reports heartbeat tasks running in this process.
	RunningTasksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tiercache_running_tasks",
		Help: "Current number of heartbeat tasks running in this process",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		HitCounter, MissCounter, LoaderErrorCounter, LoadDuration,
		SetCounter, RemoveCounter, PrefixRemoveCounter, RegistryKeysGauge,
		LockCounter, HeartbeatCounter, CancelCounter, RunningTasksGauge,
	}
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers every collector on reg and panics on
// duplicates.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(collectors()...)
}

// Register registers every collector on reg. Collectors already registered
// on reg are skipped, so the manager and the coordinator can share one
// registry.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
