package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// StepsAppliedTotal tracks committed migration steps.
var StepsAppliedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_steps_applied_total",
		Help: "Total migration steps committed",
	},
	[]string{"chain", "direction"},
)

// StepFailuresTotal tracks steps that failed and were rolled back.
var StepFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_step_failures_total",
		Help: "Total migration steps rolled back after a failure",
	},
	[]string{"chain", "direction"},
)

// NamespaceOutcomesTotal tracks per-namespace outcomes of fleet runs.
var NamespaceOutcomesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_namespace_outcomes_total",
		Help: "Total namespace outcomes by result",
	},
	[]string{"chain", "outcome"},
)

// LockContentionTotal tracks fail-fast lock acquisitions that found the namespace busy.
var LockContentionTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_lock_contention_total",
		Help: "Total namespace lock acquisitions rejected because a migration was in progress",
	},
	[]string{"chain"},
)

// NamespacesCreatedTotal tracks namespaces created on demand.
var NamespacesCreatedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pupsourcing_migrator_namespaces_created_total",
		Help: "Total namespaces created before migrating",
	},
	[]string{"chain"},
)

// TenantsSelected tracks the size of the most recent selection.
var TenantsSelected = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_migrator_tenants_selected",
		Help: "Namespaces selected by the most recent fleet run",
	},
	[]string{"chain"},
)

// ActiveSessions tracks namespace sessions currently holding a lock.
var ActiveSessions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "pupsourcing_migrator_active_sessions",
		Help: "Namespace sessions currently open",
	},
	[]string{"chain"},
)

// StepDuration tracks how long a single step transaction takes.
var StepDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_migrator_step_duration_seconds",
		Help:    "Time spent applying a single migration step",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"chain", "direction"},
)

// LockWaitDuration tracks time spent acquiring namespace locks.
var LockWaitDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_migrator_lock_wait_seconds",
		Help:    "Time spent acquiring a namespace lock",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"chain"},
)

// FleetRunDuration tracks the wall time of whole fleet runs.
var FleetRunDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "pupsourcing_migrator_fleet_run_duration_seconds",
		Help:    "Wall time of a fleet run",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
	},
	[]string{"chain"},
)
