package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Total number of business operations by outcome",
	}, []string{"operation", "result"})

	OperationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_latency_seconds",
		Help:    "Latency of business operations including the storage transaction",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	StockMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_movements_total",
		Help: "Total number of stock movements written",
	}, []string{"type"})

	InsufficientStockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_insufficient_total",
		Help: "Total number of decreases rejected for insufficient stock",
	})

	LowStockTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_low_total",
		Help: "Total number of decreases that left an item at or below its reorder level",
	})

	BalancePostingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "balance_postings_total",
		Help: "Total number of balance transactions written",
	}, []string{"kind"})

	ConsistencyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_consistency_errors_total",
		Help: "Total number of ledger invariant violations",
	}, []string{"source"})

	DivergedRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_diverged_records_total",
		Help: "Total number of records marked diverged",
	}, []string{"entity_type"})

	SyncAcksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_acks_total",
		Help: "Total number of replication acknowledgements by outcome",
	}, []string{"result"})

	EventsPublishFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_publish_failed_total",
		Help: "Total number of events that could not be published",
	}, []string{"event_type"})

	StockCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_cache_requests_total",
		Help: "Total number of stock cache lookups by outcome",
	}, []string{"result"})

	ReconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_runs_total",
		Help: "Total number of reconciliation runs by outcome",
	}, []string{"result"})

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
