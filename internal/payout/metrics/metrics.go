// Package metrics exposes Prometheus instruments for the payout ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PayoutsCalculated  prometheus.Counter
	StatusTransitions  *prometheus.CounterVec
	IntegrityFailures  prometheus.Counter
	AdjustmentsCreated *prometheus.CounterVec
	ApprovalDuration   prometheus.Histogram
}

// New registers payout metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		PayoutsCalculated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refledger_payouts_calculated_total",
			Help: "Total payout calculation runs that produced or refreshed a draft",
		}),
		StatusTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_payout_status_transitions_total",
			Help: "Payout status transitions by target status",
		}, []string{"to"}),
		IntegrityFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refledger_payout_integrity_failures_total",
			Help: "Approval attempts rejected by snapshot fingerprint verification",
		}),
		AdjustmentsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_payout_adjustments_total",
			Help: "Compensating ledger entries created by type",
		}, []string{"type"}),
		ApprovalDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "refledger_payout_approval_duration_seconds",
			Help:    "Wall time of the serializable approval transaction",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
