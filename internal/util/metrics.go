package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quotes_created_total",
		Help: "Total number of checkout quotes created",
	})

	QuotesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quotes_cancelled_total",
		Help: "Total number of quotes cancelled by buyers",
	})

	QuotesExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quotes_expired_total",
		Help: "Total number of quotes released by the expiry sweep",
	})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsSettledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_settled_total",
		Help: "Total number of payments settled",
	})

	PaymentsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_rejected_total",
		Help: "Total number of payment claims rejected by verification",
	}, []string{"reason"})

	SettlementReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_replays_total",
		Help: "Total number of duplicate completion callbacks absorbed idempotently",
	})

	TicketsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tickets_issued_total",
		Help: "Total number of ticket rows issued",
	})

	SettlementLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_latency_seconds",
		Help:    "Latency of settlement commits",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
