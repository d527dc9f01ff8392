package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	eventsConsumedCounter *prometheus.CounterVec
	eventsDroppedCounter  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.eventsConsumedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_bridge_events_consumed_count",
		Help: "The number of bridge events consumed from the events topic",
	}, []string{"type"})

	metrics.eventsDroppedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_bridge_events_dropped_count",
		Help: "The number of bridge events that could not be delivered",
	}, []string{"reason"})

	return metrics
}

var metrics = NewMetrics()
