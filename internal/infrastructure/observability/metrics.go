package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// VerificationOutcomes counts verdicts per outcome; ALREADY_USED and
	// DUPLICATE_ORDER_CODE spikes are the fraud signal to alert on.
	VerificationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_outcomes_total",
			Help: "Total number of verification verdicts by outcome",
		},
		[]string{"outcome"},
	)

	TransactionsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_ingested_total",
			Help: "Total number of ingested payment notifications by source and status",
		},
		[]string{"source", "status"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(RepositoryCalls, RepositoryDuration, VerificationOutcomes, TransactionsIngested)
}
