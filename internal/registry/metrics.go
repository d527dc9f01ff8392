package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	connectionGauge               *prometheus.GaugeVec
	registeredConnectionCounter   prometheus.Counter
	disconnectedConnectionCounter *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.connectionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "realtime_connector_connection_count",
		Help: "The number of active connections on this instance",
	}, []string{"type"})

	metrics.registeredConnectionCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_registered_connection_count",
		Help: "The total number of connections registered",
	})

	metrics.disconnectedConnectionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_disconnected_connection_count",
		Help: "The total number of connections disconnected",
	}, []string{"reason"})

	return metrics
}

var (
	metrics = NewMetrics()
)
