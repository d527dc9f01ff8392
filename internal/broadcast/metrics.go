package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	deliveredMessageCounter       *prometheus.CounterVec
	sendFailureCounter            prometheus.Counter
	offlineMessagesQueuedCounter  prometheus.Counter
	offlineMessagesDroppedCounter prometheus.Counter
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.deliveredMessageCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_delivered_message_count",
		Help: "The number of messages delivered to connections",
	}, []string{"type"})

	metrics.sendFailureCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_send_failure_count",
		Help: "The number of sends that failed and triggered a disconnect",
	})

	metrics.offlineMessagesQueuedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_offline_message_queued_count",
		Help: "The number of messages queued for offline users",
	})

	metrics.offlineMessagesDroppedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_offline_message_dropped_count",
		Help: "The number of queued offline messages dropped by the per user bound",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)
