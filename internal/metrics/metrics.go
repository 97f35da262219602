// Package metrics holds the prometheus collectors of the checkout core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	OrdersPlaced       *prometheus.CounterVec
	OrderFailures      *prometheus.CounterVec
	OrderDuration      prometheus.Histogram
	GuestsProvisioned  prometheus.Counter
	CartMergeItems     *prometheus.CounterVec
	CartMergesRejected prometheus.Counter
}

// New registers every collector on a fresh registry, so tests can build as
// many instances as they like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		OrdersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_orders_placed_total",
			Help: "Orders committed, by payment method and caller type.",
		}, []string{"payment_method", "caller"}),
		OrderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_order_failures_total",
			Help: "Order placements rolled back, by error kind.",
		}, []string{"kind"}),
		OrderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "checkout_order_placement_seconds",
			Help:    "Wall time of order placement including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		GuestsProvisioned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_guest_accounts_provisioned_total",
			Help: "Accounts created implicitly by guest checkout.",
		}),
		CartMergeItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "checkout_cart_merge_items_total",
			Help: "Guest cart lines processed during login reconciliation, by outcome.",
		}, []string{"outcome"}),
		CartMergesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "checkout_cart_merges_rejected_total",
			Help: "Merges refused because one was already running for the user.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.OrdersPlaced,
		m.OrderFailures,
		m.OrderDuration,
		m.GuestsProvisioned,
		m.CartMergeItems,
		m.CartMergesRejected,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
