package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trades_created_total",
		Help: "Total number of trades created at the processor",
	})

	TradesSucceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trades_succeeded_total",
		Help: "Total number of trades that reached SUCCEEDED",
	})

	TradesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trades_failed_total",
		Help: "Total number of trades that reached a failure state",
	}, []string{"reason"})

	TradesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trades_cancelled_total",
		Help: "Total number of trades cancelled",
	})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total number of webhook deliveries received",
	}, []string{"type"})

	WebhooksRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_rejected_total",
		Help: "Total number of webhook deliveries rejected",
	}, []string{"reason"})

	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_runs_total",
		Help: "Total number of reconciliation passes",
	}, []string{"source"})

	GatewayRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of processor API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Total number of processor API calls",
	}, []string{"endpoint", "outcome"})

	InstrumentSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "instrument_sync_total",
		Help: "Total number of instrument sync runs",
	}, []string{"outcome"})

	InstrumentCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "instrument_cache_hits_total",
		Help: "Total number of instrument cache hits",
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
