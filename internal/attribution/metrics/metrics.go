// Package metrics exposes Prometheus counters for the attribution engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ConversionsAttributed prometheus.Counter
	AttributionRejects    prometheus.Counter
	FallbackLookups       *prometheus.CounterVec
}

// New registers attribution metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		ConversionsAttributed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refledger_conversions_attributed_total",
			Help: "Total number of conversions attributed",
		}),
		AttributionRejects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refledger_attribution_rejects_total",
			Help: "Total attribution attempts rejected because the user was already attributed",
		}),
		FallbackLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_attribution_fallback_lookups_total",
			Help: "Fallback attribution lookups by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordFallback(found bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if found {
		outcome = "hit"
	}
	m.FallbackLookups.WithLabelValues(outcome).Inc()
}
