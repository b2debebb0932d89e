package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"opensky/core/events"
)

// LedgerMetrics tracks the committed ledger events by type.
type LedgerMetrics struct {
	eventsTotal *prometheus.CounterVec
}

var (
	ledgerOnce     sync.Once
	ledgerRegistry *LedgerMetrics
)

// Ledger returns the process-wide ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "opensky",
				Subsystem: "ledger",
				Name:      "events_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(ledgerRegistry.eventsTotal)
	})
	return ledgerRegistry
}

// Emit implements the events.Emitter interface.
func (m *LedgerMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.eventsTotal.WithLabelValues(evt.EventType()).Inc()
}
