package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChainWrites counts confirmed/failed contract writes by method.
	ChainWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_client_chain_writes_total",
			Help: "Total number of contract write attempts",
		},
		[]string{"method", "outcome"},
	)

	// ChainReads counts read calls by method.
	ChainReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_client_chain_reads_total",
			Help: "Total number of contract read calls",
		},
		[]string{"method", "outcome"},
	)

	// PollAttempts counts scheduler attempts by poll kind.
	PollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_client_poll_attempts_total",
			Help: "Total number of poll scheduler attempts",
		},
		[]string{"kind"},
	)

	// PollOutcomes counts finished polls by kind and outcome.
	PollOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_client_poll_outcomes_total",
			Help: "Total number of finished polls",
		},
		[]string{"kind", "outcome"},
	)

	// AllowanceVerifyDuration observes how long allowance propagation takes.
	AllowanceVerifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bounty_client_allowance_verify_seconds",
			Help:    "Time until an approved allowance became observable",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		},
	)

	// StatusOverrides counts reconciliation overrides by reason.
	StatusOverrides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_client_status_overrides_total",
			Help: "Total number of effective-status overrides",
		},
		[]string{"reason"},
	)

	// WatcherPasses counts background watcher sweeps.
	WatcherPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_client_watcher_passes_total",
			Help: "Total number of background watcher sweeps",
		},
		[]string{"watcher"},
	)

	// ActiveLeases tracks currently held poll leases.
	ActiveLeases = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bounty_client_active_poll_leases",
			Help: "Number of currently held poll leases",
		},
	)

	// ContractEvents counts escrow contract logs observed by the monitor.
	ContractEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_client_contract_events_total",
			Help: "Total number of escrow contract events observed",
		},
		[]string{"event"},
	)
)
