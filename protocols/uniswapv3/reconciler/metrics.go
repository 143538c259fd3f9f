package reconciler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the prometheus instruments of a single pool reconciler.
type Metrics struct {
	UpdatesTotal  *prometheus.CounterVec
	FetchesTotal  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	QuotesTotal   *prometheus.CounterVec
	SnapshotBlock *prometheus.GaugeVec
}

// NewMetrics creates and registers the reconciler's metrics. The pool address
// is attached as a constant label so one registry can serve many pools.
func NewMetrics(reg prometheus.Registerer, pool string) *Metrics {
	constLabels := prometheus.Labels{"pool": pool}

	m := &Metrics{
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "amm_replica_reconciler_updates_total",
			Help:        "External updates by outcome (applied, stale, inconsistent, invalid).",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "amm_replica_reconciler_fetches_total",
			Help:        "State-source fetches by kind (word, tick) and outcome (found, empty, error).",
			ConstLabels: constLabels,
		}, []string{"kind", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "amm_replica_reconciler_fetch_duration_seconds",
			Help:        "Latency of state-source fetches by kind.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"kind"}),
		QuotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "amm_replica_reconciler_quotes_total",
			Help:        "Quote requests by outcome (ok, no_liquidity, error).",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		SnapshotBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "amm_replica_reconciler_snapshot_block",
			Help:        "Block height of the current pool snapshot.",
			ConstLabels: constLabels,
		}, []string{}),
	}

	reg.MustRegister(m.UpdatesTotal, m.FetchesTotal, m.FetchDuration, m.QuotesTotal, m.SnapshotBlock)
	return m
}
