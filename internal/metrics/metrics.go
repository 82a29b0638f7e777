// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InboundEvents counts webhook events by channel and outcome
	// (routed, ignored, unknown_tenant, malformed, error).
	InboundEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talk2chat_inbound_events_total",
			Help: "Inbound channel events by outcome",
		},
		[]string{"channel", "outcome"},
	)

	// Relays counts outbound deliveries by channel and final status.
	Relays = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talk2chat_outbound_relays_total",
			Help: "Outbound relays by final delivery status",
		},
		[]string{"channel", "status"},
	)

	RelayAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talk2chat_outbound_relay_attempts",
			Help:    "Attempts needed per outbound relay",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"channel"},
	)

	AIReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talk2chat_ai_replies_total",
			Help: "Auto-responder decisions by outcome",
		},
		[]string{"provider", "outcome"},
	)

	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "talk2chat_realtime_clients",
			Help: "Connected realtime inbox viewers",
		},
	)

	// RealtimeDropped counts events withheld from a viewer, either out of
	// scope or because the viewer's buffer was full.
	RealtimeDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talk2chat_realtime_dropped_total",
			Help: "Realtime events not delivered to a viewer",
		},
		[]string{"reason"},
	)
)
