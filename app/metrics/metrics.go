package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_webhooks_total",
		Help: "Inbound provider webhooks by provider and outcome",
	}, []string{"provider", "outcome"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_payment_transitions_total",
		Help: "Accepted payment status transitions",
	}, []string{"provider", "from", "to"})

	PropagationAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_completion_propagation_attempts_total",
		Help: "Downstream completion propagation attempts by result",
	}, []string{"result"})

	GatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paygate_gateway_call_duration_seconds",
		Help:    "Latency of outbound provider API calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider", "call"})
)
