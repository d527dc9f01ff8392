package heartbeat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	probesSentCounter          prometheus.Counter
	missedPongCounter          prometheus.Counter
	heartbeatDisconnectCounter prometheus.Counter
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.probesSentCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_heartbeat_probe_count",
		Help: "The number of server initiated heartbeat probes sent",
	})

	metrics.missedPongCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_heartbeat_missed_pong_count",
		Help: "The number of heartbeat probes that went unanswered",
	})

	metrics.heartbeatDisconnectCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_heartbeat_disconnect_count",
		Help: "The number of connections disconnected due to heartbeat failure",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)
