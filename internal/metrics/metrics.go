// Package metrics exposes ledger and payment counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokenledger"

// Recorder counts ledger operations and processor events on its own registry.
// It satisfies ledger.OperationLogger and payments.EventRecorder.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	tokens     *prometheus.CounterVec
	events     *prometheus.CounterVec
}

// NewRecorder registers the collectors on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Recorder{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Ledger operations by operation and outcome status.",
		}, []string{"operation", "status"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Token amounts of successful operations by transaction type.",
		}, []string{"type"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_events_total",
			Help:      "Payment processor events by type and outcome.",
		}, []string{"type", "outcome"}),
	}
}

// LogOperation implements ledger.OperationLogger.
func (recorder *Recorder) LogOperation(_ context.Context, entry ledger.OperationLog) {
	recorder.operations.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Status != "ok" || entry.TransactionType == "" || entry.Amount <= 0 {
		return
	}
	recorder.tokens.WithLabelValues(entry.TransactionType.String()).Add(float64(entry.Amount))
}

// RecordEvent implements payments.EventRecorder.
func (recorder *Recorder) RecordEvent(eventType string, outcome string) {
	recorder.events.WithLabelValues(eventType, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{})
}
