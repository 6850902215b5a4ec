package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics covers the attestation lifecycle
type BusinessMetrics struct {
	PaymentsAcceptedTotal   prometheus.Counter
	PaymentsRejectedTotal   *prometheus.CounterVec
	TransitionsTotal        *prometheus.CounterVec
	AttestationsPostedTotal prometheus.Counter
	RewardsSentTotal        *prometheus.CounterVec
	ProviderRequestDuration *prometheus.HistogramVec
	SweepDuration           *prometheus.HistogramVec
}

// Global Metrics Instance
var Business *BusinessMetrics

// InitBusinessMetrics initializes business metrics
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		PaymentsAcceptedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestation_payments_accepted_total",
			Help: "The total number of accepted attestation payments",
		}),
		PaymentsRejectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestation_payments_rejected_total",
			Help: "The total number of rejected payments",
		}, []string{"reason"}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestation_transitions_total",
			Help: "State machine transitions by target state",
		}, []string{"to"}),
		AttestationsPostedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attestation_units_posted_total",
			Help: "The total number of attestation units broadcast",
		}),
		RewardsSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attestation_rewards_sent_total",
			Help: "The total number of reward payments sent",
		}, []string{"kind"}),
		ProviderRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attestation_provider_request_duration_seconds",
			Help:    "Duration of verification provider API calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		SweepDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attestation_sweep_duration_seconds",
			Help:    "Duration of periodic retry sweeps",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}
}
