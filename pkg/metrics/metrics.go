package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "airdrop_engine_build_info",
			Help: "Build information of the airdrop engine",
		},
		[]string{"version", "commit", "date"},
	)

	EligibilityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airdrop_engine_eligibility_checks_total",
			Help: "Total number of eligibility evaluations",
		},
		[]string{"chain", "status"},
	)

	AllocationRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airdrop_engine_allocation_records_total",
			Help: "Total number of distribution records created by allocation",
		},
		[]string{"mode"},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airdrop_engine_dispatch_total",
			Help: "Total number of transaction dispatch attempts",
		},
		[]string{"chain", "status"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "airdrop_engine_dispatch_duration_seconds",
			Help:    "Duration of transaction dispatch attempts",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~51s
		},
		[]string{"chain"},
	)

	LedgerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airdrop_engine_ledger_transitions_total",
			Help: "Total number of distribution ledger state transitions",
		},
		[]string{"from", "to"},
	)

	DistributionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "airdrop_engine_distribution_run_duration_seconds",
			Help:    "Duration of full distribution runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~2048s
		},
	)
)
