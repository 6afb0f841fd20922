package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc500_cycles_total",
			Help: "Total number of distribution cycles by outcome",
		},
		[]string{"outcome"},
	)

	SpendableBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "btc500_spendable_lamports",
			Help: "Spendable native balance observed at the last cycle",
		},
	)

	// Conversion metrics
	ConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc500_conversions_total",
			Help: "Total number of conversion attempts by status",
		},
		[]string{"status"},
	)

	ConvertedOutputTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "btc500_converted_output_units_total",
			Help: "Total reward units acquired through successful conversions",
		},
	)

	// Distribution metrics
	DistributionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc500_distributions_total",
			Help: "Total number of distribution runs by status",
		},
		[]string{"status"},
	)

	AllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc500_allocations_total",
			Help: "Total number of transfer allocations by final status",
		},
		[]string{"status"},
	)

	BatchSubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "btc500_batch_submit_duration_seconds",
			Help:    "Duration of batch submission attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "btc500_batch_retries_total",
			Help: "Total number of batch submission retries",
		},
	)

	// Snapshot metrics
	SnapshotHolders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "btc500_snapshot_holders",
			Help: "Eligible holder count of the last snapshot",
		},
	)
)
