package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds link registry Prometheus metrics.
type Metrics struct {
	LinksCreated     prometheus.Counter
	ClicksRecorded   prometheus.Counter
	CodeRetries      prometheus.Counter
	ResolveCacheHits *prometheus.CounterVec
}

// New registers link metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		LinksCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refledger_links_created_total",
			Help: "Total number of referral links created",
		}),
		ClicksRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refledger_link_clicks_total",
			Help: "Total number of link clicks recorded",
		}),
		CodeRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "refledger_shortcode_retries_total",
			Help: "Total number of short code collision retries",
		}),
		ResolveCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "refledger_link_resolve_cache_total",
			Help: "Link resolution cache lookups by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.ResolveCacheHits.WithLabelValues(outcome).Inc()
}
