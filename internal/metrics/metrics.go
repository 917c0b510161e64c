package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LedgerAdjustments *prometheus.CounterVec
	WebhookEvents     *prometheus.CounterVec
	PayoutAttempts    *prometheus.CounterVec
	IAPVerifications  *prometheus.CounterVec
}

// New registers the wallet metrics on the given registerer. Tests pass a
// fresh prometheus.NewRegistry so repeated construction does not panic.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LedgerAdjustments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bursar",
				Subsystem: "ledger",
				Name:      "adjustments_total",
				Help:      "Ledger adjustments partitioned by kind and result.",
			},
			[]string{"kind", "result"},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bursar",
				Subsystem: "webhooks",
				Name:      "events_total",
				Help:      "Provider webhook events partitioned by provider, type and outcome.",
			},
			[]string{"provider", "type", "outcome"},
		),
		PayoutAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bursar",
				Subsystem: "withdrawals",
				Name:      "payout_attempts_total",
				Help:      "Gateway payout attempts partitioned by outcome.",
			},
			[]string{"outcome"},
		),
		IAPVerifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "bursar",
				Subsystem: "iap",
				Name:      "verifications_total",
				Help:      "Mobile receipt verifications partitioned by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		),
	}
}
