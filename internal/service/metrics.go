package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the broker services.
// Pass to components that need to record metrics.
type Metrics struct {
	PolicyLoads        *prometheus.CounterVec
	ReconcileRuns      *prometheus.CounterVec
	ReconcileDuration  prometheus.Histogram
	GroupsByCompliance *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		PolicyLoads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "groupgate",
				Name:      "policy_loads_total",
				Help:      "Total policy document loads, including cache refreshes",
			},
			[]string{"environment", "result"}, // result=ok/error
		),
		ReconcileRuns: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "groupgate",
				Name:      "reconcile_runs_total",
				Help:      "Total environment reconciliation runs",
			},
			[]string{"environment", "result"}, // result=ok/error
		),
		ReconcileDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "groupgate",
				Name:      "reconcile_duration_seconds",
				Help:      "Duration of one environment reconciliation",
				Buckets:   prometheus.DefBuckets,
			},
		),
		GroupsByCompliance: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "groupgate",
				Name:      "groups_by_compliance",
				Help:      "Provisioned groups observed in the last reconciliation, by state",
			},
			[]string{"environment", "state"},
		),
	}
}
