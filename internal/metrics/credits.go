package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Credit ledger Prometheus metrics.
var (
	ChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "checks_total",
			Help:      "Total remaining-credit lookups",
		},
		[]string{"result"}, // "fresh" / "reset" / "anonymous" / "error"
	)

	DeductionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "deductions_total",
			Help:      "Total deduction attempts by outcome",
		},
		[]string{"result"}, // "allowed" / "denied" / "replayed"
	)

	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "store_errors_total",
			Help:      "Key-value store failures seen by the ledger",
		},
		[]string{"op"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credits",
			Name:      "events_published_total",
			Help:      "Charge events handed to the message bus",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register registers the credit metrics with the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ChecksTotal, DeductionsTotal, StoreErrorsTotal, EventsPublishedTotal)
	})
}
