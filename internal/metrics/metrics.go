package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics счетчики и гистограммы биллинга для Prometheus
type Metrics struct {
	TransactionsTotal *prometheus.CounterVec
	WebhooksTotal     *prometheus.CounterVec
	QuotaChecksTotal  *prometheus.CounterVec
	SweepRunsTotal    *prometheus.CounterVec
	SweepDuration     *prometheus.HistogramVec
}

// New регистрирует метрики биллинга в переданном реестре
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TransactionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "transactions_total",
			Help:      "Transactions by kind and final status applied",
		}, []string{"kind", "status"}),

		WebhooksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhook_notifications_total",
			Help:      "Gateway webhook notifications by outcome",
		}, []string{"outcome"}),

		QuotaChecksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "quota_checks_total",
			Help:      "Quota checks by action and verdict",
		}, []string{"action", "allowed"}),

		SweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "sweep_runs_total",
			Help:      "Reconciliation sweep runs by sweep name and result",
		}, []string{"sweep", "result"}),

		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "sweep_duration_seconds",
			Help:      "Reconciliation sweep duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
	}
}
