// Package metrics holds the Prometheus collectors for the workflow engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics groups the engine counters. All names carry the briefline_ prefix.
type Metrics struct {
	DecisionsTotal       *prometheus.CounterVec
	PolicyChecksTotal    *prometheus.CounterVec
	TaskTransitionsTotal *prometheus.CounterVec
	StateConflictsTotal  *prometheus.CounterVec
	OutcomesTotal        *prometheus.CounterVec
}

// Default returns the process-wide collectors, registering them on first use.
func Default() *Metrics {
	once.Do(func() {
		global = &Metrics{
			DecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "briefline_decisions_total",
				Help: "Validator decisions recorded, by decision.",
			}, []string{"decision"}),
			PolicyChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "briefline_policy_checks_total",
				Help: "Policy evaluations, by whether the brief could be auto-approved.",
			}, []string{"auto_approve"}),
			TaskTransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "briefline_task_transitions_total",
				Help: "Production task status changes, by target status.",
			}, []string{"to"}),
			StateConflictsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "briefline_state_conflicts_total",
				Help: "Writes rejected by a status guard, by entity.",
			}, []string{"entity"}),
			OutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "briefline_outcomes_total",
				Help: "Outcome tags recorded, by outcome.",
			}, []string{"outcome"}),
		}
	})
	return global
}
