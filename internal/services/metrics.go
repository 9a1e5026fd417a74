package services

import "github.com/prometheus/client_golang/prometheus"

var (
	retryOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_retry_outcomes_total",
			Help: "Manual retry taps by outcome.",
		},
		[]string{"outcome"},
	)

	presenterEdits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_presenter_edits_total",
			Help: "Progress edits issued while presenting replies.",
		},
		[]string{"result"},
	)

	broadcastDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_broadcast_deliveries_total",
			Help: "Broadcast messages by delivery result.",
		},
		[]string{"result"},
	)

	replySources = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_replies_total",
			Help: "Replies delivered by where they came from.",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(retryOutcomes, presenterEdits, broadcastDeliveries, replySources)
}
