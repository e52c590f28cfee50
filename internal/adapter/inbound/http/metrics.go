// Package http provides the HTTP API adapter for the broker.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the HTTP API.
// Pass to components that need to record metrics.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	JoinsTotal      *prometheus.CounterVec
	ApprovalsTotal  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "groupgate",
				Name:      "http_requests_total",
				Help:      "Total number of API requests processed",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "groupgate",
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		JoinsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "groupgate",
				Name:      "joins_total",
				Help:      "Total join requests",
			},
			[]string{"environment", "mode"}, // mode=self/proposal
		),
		ApprovalsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "groupgate",
				Name:      "approvals_total",
				Help:      "Total proposal approvals",
			},
			[]string{"environment", "result"}, // result=ok/denied/invalid
		),
	}
}
