package offlinesync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	recordsProcessedCounter  *prometheus.CounterVec
	conflictsDetectedCounter *prometheus.CounterVec
	conflictsResolvedCounter *prometheus.CounterVec
	downloadsCounter         prometheus.Counter
	batchDuration            prometheus.Histogram
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.recordsProcessedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_sync_record_count",
		Help: "The number of sync records processed",
	}, []string{"status"})

	metrics.conflictsDetectedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_sync_conflict_detected_count",
		Help: "The number of sync conflicts detected",
	}, []string{"type"})

	metrics.conflictsResolvedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_sync_conflict_resolved_count",
		Help: "The number of sync conflicts resolved",
	}, []string{"strategy"})

	metrics.downloadsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_sync_download_count",
		Help: "The number of incremental change downloads served",
	})

	metrics.batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "realtime_connector_sync_batch_duration",
		Help: "The amount of time it took to process a sync batch",
	})

	return metrics
}

var (
	metrics = NewMetrics()
)
