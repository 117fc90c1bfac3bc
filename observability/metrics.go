package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the lease and payment counters the service exposes on
// /metrics. All recording methods are nil-safe so wiring metrics stays
// optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	rentalsStarted     prometheus.Counter
	rentPayments       prometheus.Counter
	entryFeePayments   prometheus.Counter
	evictions          prometheus.Counter
	settlementFailures prometheus.Counter
	facilitatorLatency prometheus.Histogram
}

// NewMetrics builds and registers the lease metric collectors on a private
// registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "iglood"
	}
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		rentalsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "rentals_started_total",
			Help:      "Tenancies successfully started.",
		}),
		rentPayments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "rent_payments_total",
			Help:      "Rent renewals successfully settled.",
		}),
		entryFeePayments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "entry_fee_payments_total",
			Help:      "Entry fees successfully settled.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lease",
			Name:      "evictions_total",
			Help:      "Tenancies evicted by the overdue sweep.",
		}),
		settlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "settlement_failures_total",
			Help:      "Settlements that failed after verification succeeded.",
		}),
		facilitatorLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "facilitator_duration_seconds",
			Help:      "Latency distribution of facilitator calls.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	registry.MustRegister(
		m.rentalsStarted,
		m.rentPayments,
		m.entryFeePayments,
		m.evictions,
		m.settlementFailures,
		m.facilitatorLatency,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RentalStarted records a successful StartRental.
func (m *Metrics) RentalStarted() {
	if m != nil {
		m.rentalsStarted.Inc()
	}
}

// RentPaid records a successful rent renewal.
func (m *Metrics) RentPaid() {
	if m != nil {
		m.rentPayments.Inc()
	}
}

// EntryFeePaid records a successful entry-fee settlement.
func (m *Metrics) EntryFeePaid() {
	if m != nil {
		m.entryFeePayments.Inc()
	}
}

// Eviction records one eviction performed by the sweep.
func (m *Metrics) Eviction() {
	if m != nil {
		m.evictions.Inc()
	}
}

// SettlementFailure records a settlement that failed post-verification.
func (m *Metrics) SettlementFailure() {
	if m != nil {
		m.settlementFailures.Inc()
	}
}

// ObserveFacilitator records the latency of one facilitator round trip.
func (m *Metrics) ObserveFacilitator(d time.Duration) {
	if m != nil {
		m.facilitatorLatency.Observe(d.Seconds())
	}
}
