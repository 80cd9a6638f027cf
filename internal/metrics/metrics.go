package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide collectors, registered on the default registry and
// served by the /metrics endpoint.
var (
	EventsAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_ledger_events_appended_total",
		Help: "Consumption events appended to the ledger, by event type.",
	}, []string{"event_type"})

	SalesLinesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_sales_lines_ingested_total",
		Help: "Raw POS sales lines accepted, by source system.",
	}, []string{"source"})

	UnmappedSalesLines = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barstock_sales_lines_unmapped_total",
		Help: "Sales lines skipped by depletion because no mapping matched.",
	})

	DepletionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_depletion_runs_total",
		Help: "Depletion engine passes, by kind and outcome.",
	}, []string{"kind", "outcome"})

	SessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barstock_sessions_closed_total",
		Help: "Inventory sessions closed.",
	})

	ShrinkageFlagged = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "barstock_shrinkage_items_flagged",
		Help: "Items currently flagged by the shrinkage detector, by location.",
	}, []string{"location"})

	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barstock_alerts_fired_total",
		Help: "Alerts dispatched after dedupe, by rule.",
	}, []string{"rule"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "barstock_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	SessionStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "barstock_session_streams_active",
		Help: "Open websocket subscriptions to session event streams.",
	})
)
