package cart

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments cart sessions. Completions discarded as stale are
// invisible to callers, so the stale counter is the only way to observe
// them from the outside.
type Metrics struct {
	Mutations        *prometheus.CounterVec
	Loads            *prometheus.CounterVec
	StaleCompletions prometheus.Counter
	SessionsActive   prometheus.Gauge
}

// NewMetrics registers the cart metric set with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cart_mutations_total",
				Help: "Cart mutations by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		Loads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cart_loads_total",
				Help: "Cart loads from the remote store by outcome.",
			},
			[]string{"outcome"},
		),
		StaleCompletions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cart_stale_completions_total",
				Help: "Remote completions discarded because a newer mutation, load, or identity change superseded them.",
			},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cart_sessions_active",
				Help: "Cart sessions currently held in memory.",
			},
		),
	}
}

const (
	outcomeConfirmed  = "confirmed"
	outcomeRolledBack = "rolled_back"
	outcomeDiscarded  = "discarded"
	outcomeSuccess    = "success"
	outcomeError      = "error"
	outcomeSuperseded = "superseded"
)
