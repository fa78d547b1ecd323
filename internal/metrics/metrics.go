// Package metrics defines the prometheus collectors for the sync engine.
//
// Collectors are registered on a caller-supplied Registerer instead of the
// process-global default, so independent engines (and tests) never collide.
// New(nil) builds working but unregistered collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fieldsync"

// Cache lookup results.
const (
	LookupFresh = "fresh"
	LookupStale = "stale"
	LookupMiss  = "miss"
)

// Metrics holds every collector the engine reports to.
type Metrics struct {
	// CacheLookups counts cache reads by category and result (fresh, stale, miss).
	CacheLookups *prometheus.CounterVec

	// CacheWrites counts successful cache puts by category.
	CacheWrites *prometheus.CounterVec

	// RetryAttempts counts network attempts by outcome.
	RetryAttempts *prometheus.CounterVec

	// RetriesExhausted counts calls that failed every attempt.
	RetriesExhausted prometheus.Counter

	// QueueDepth is the number of pending offline actions.
	QueueDepth prometheus.Gauge

	// ActionsEnqueued counts offline actions by type.
	ActionsEnqueued *prometheus.CounterVec

	// ActionsReplayed counts successfully replayed actions by type.
	ActionsReplayed *prometheus.CounterVec

	// Drains counts drain passes by result (ok, failed, skipped).
	Drains *prometheus.CounterVec

	// Fetches counts orchestrator reads by source (cache, network, stale).
	Fetches *prometheus.CounterVec

	// Online is 1 while the connectivity tracker reports Online.
	Online prometheus.Gauge

	// Transitions counts connectivity transitions by target state.
	Transitions *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by category and result",
		}, []string{"category", "result"}),

		CacheWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Successful cache writes by category",
		}, []string{"category"}),

		RetryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Network attempts by outcome",
		}, []string{"outcome"}),

		RetriesExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_exhausted_total",
			Help:      "Calls that failed on every attempt",
		}),

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Pending offline actions",
		}),

		ActionsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_enqueued_total",
			Help:      "Offline actions enqueued by type",
		}, []string{"action_type"}),

		ActionsReplayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_replayed_total",
			Help:      "Offline actions successfully replayed by type",
		}, []string{"action_type"}),

		Drains: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drains_total",
			Help:      "Queue drain passes by result",
		}, []string{"result"}),

		Fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Orchestrator reads by source",
		}, []string{"source"}),

		Online: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the connectivity tracker reports online",
		}),

		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_transitions_total",
			Help:      "Connectivity transitions by target state",
		}, []string{"to"}),
	}
}

// Nop returns unregistered collectors for components built without metrics.
func Nop() *Metrics {
	return New(nil)
}
