// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LedgerEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicehub_ledger_entries_total",
			Help: "Ledger entries appended, by entry type",
		},
		[]string{"type"},
	)

	LedgerWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "servicehub_ledger_history_write_failures_total",
			Help: "Balance mutations whose history entry could not be written",
		},
	)

	Fulfillments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicehub_fulfillments_total",
			Help: "Fulfillment attempts, by record kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	ProviderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "servicehub_provider_call_duration_seconds",
			Help:    "Duration of external provider calls",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 90},
		},
		[]string{"provider", "outcome"},
	)

	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "servicehub_reconciliations_total",
			Help: "Reconciliation results, by flow and resulting status",
		},
		[]string{"flow", "status"},
	)

	UnresolvedReservations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "servicehub_unresolved_reservations",
			Help: "Debits with no record and no refund found by the last sweep",
		},
	)

	MissingRefunds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "servicehub_missing_refunds",
			Help: "Refunded or failed records with no refund entry found by the last sweep",
		},
	)

	EventPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "servicehub_event_publish_errors_total",
			Help: "Ledger events that could not be published to Kafka",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
