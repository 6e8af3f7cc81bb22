package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service-level collectors. The provider duration
// histogram is observed by the adapter instrumentation around every PSP call.
type Metrics struct {
	Registry *prometheus.Registry

	ProviderRequestDuration *prometheus.HistogramVec
	PaymentsCreated         *prometheus.CounterVec
	WebhooksReceived        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		ProviderRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Latency of outbound PSP calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation", "outcome"}),
		PaymentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payments_created_total",
			Help: "Payment attempts created, by provider.",
		}, []string{"provider"}),
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Inbound PSP webhooks, by provider and verification outcome.",
		}, []string{"provider", "verification"}),
	}

	registry.MustRegister(
		m.ProviderRequestDuration,
		m.PaymentsCreated,
		m.WebhooksReceived,
	)
	return m
}
