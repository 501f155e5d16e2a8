package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DerivationsStarted counts candidate/state derivations by operation kind
var DerivationsStarted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "walletsend_derivations_started_total",
		Help: "Total number of transaction derivations started",
	},
	[]string{"kind"},
)

// DerivationsFinished counts derivations by outcome (applied/discarded)
var DerivationsFinished = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "walletsend_derivations_finished_total",
		Help: "Total number of transaction derivations finished, by outcome",
	},
	[]string{"kind", "outcome"},
)

// Dispatch metrics
var (
	DispatchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsend_dispatch_results_total",
			Help: "Dispatch gateway results by result kind",
		},
		[]string{"result"},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walletsend_dispatch_latency_seconds",
			Help:    "Latency in seconds of calls into the signer/broadcaster",
			Buckets: prometheus.DefBuckets,
		},
	)

	StalenessAborts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsend_staleness_aborts_total",
			Help: "Send attempts aborted by the fee staleness guard",
		},
		[]string{"reason"},
	)
)

// Staking metrics
var (
	PollingTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "walletsend_polling_ticks_total",
			Help: "Number of polling timer ticks that re-ran derivation",
		},
	)

	InvalidTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walletsend_staking_invalid_transitions_total",
			Help: "Rejected staking action state transitions",
		},
		[]string{"from", "to"},
	)
)

func init() {
	prometheus.MustRegister(DerivationsStarted, DerivationsFinished)
	prometheus.MustRegister(DispatchResults, DispatchLatency, StalenessAborts)
	prometheus.MustRegister(PollingTicks, InvalidTransitions)
}
