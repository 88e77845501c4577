// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// ChatRequests counts dispatches by provider and outcome
	// (ok, upstream_error, invalid, rejected).
	ChatRequests *prometheus.CounterVec
	// QuotaRejected counts shared-key requests turned away at the limit.
	QuotaRejected prometheus.Counter
	// CatalogUpstreamErrors counts failed live model listings.
	CatalogUpstreamErrors prometheus.Counter
	// HTTPRequests counts handled requests by route and status class.
	HTTPRequests *prometheus.CounterVec
}

var (
	once   sync.Once
	global *Metrics
)

// Global returns the process-wide metrics set, registering the collectors on
// first use.
func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chatgate",
				Name:      "chat_requests_total",
				Help:      "Chat dispatches by provider and outcome.",
			}, []string{"provider", "outcome"}),
			QuotaRejected: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "chatgate",
				Name:      "quota_rejected_total",
				Help:      "Requests rejected by the daily shared-key limit.",
			}),
			CatalogUpstreamErrors: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "chatgate",
				Name:      "catalog_upstream_errors_total",
				Help:      "Failed live model catalog fetches.",
			}),
			HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chatgate",
				Name:      "http_requests_total",
				Help:      "Handled HTTP requests by route and status class.",
			}, []string{"route", "class"}),
		}
	})
	return global
}
