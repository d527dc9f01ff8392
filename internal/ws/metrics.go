package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	upgradeCounter            prometheus.Counter
	upgradeRejectedCounter    *prometheus.CounterVec
	authFailureCounter        *prometheus.CounterVec
	capacityRejectionsCounter prometheus.Counter
	messagesReceivedCounter   *prometheus.CounterVec
	malformedMessagesCounter  prometheus.Counter
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.upgradeCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_websocket_upgrade_count",
		Help: "The number of successful websocket upgrades",
	})

	metrics.upgradeRejectedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_websocket_upgrade_rejected_count",
		Help: "The number of websocket upgrade requests rejected before the handshake",
	}, []string{"reason"})

	metrics.authFailureCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_authentication_failure_count",
		Help: "The number of failed websocket authentication handshakes",
	}, []string{"reason"})

	metrics.capacityRejectionsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_capacity_rejection_count",
		Help: "The number of connections rejected due to tenant or user connection limits",
	})

	metrics.messagesReceivedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_message_received_count",
		Help: "The number of inbound messages received",
	}, []string{"type"})

	metrics.malformedMessagesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_malformed_message_count",
		Help: "The number of inbound messages that could not be parsed",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)
