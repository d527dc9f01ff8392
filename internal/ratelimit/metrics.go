package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	throttledMessagesCounter     prometheus.Counter
	throttledConnectionsCounter  prometheus.Counter
	oversizedMessagesCounter     prometheus.Counter
	violationsCounter            prometheus.Counter
	bansIssuedCounter            *prometheus.CounterVec
	bannedAttemptsCounter        prometheus.Counter
	storeErrorCounter            prometheus.Counter
	failClosedRejectionsCounter  prometheus.Counter
	expiredBucketsRemovedCounter prometheus.Counter
}

func NewMetrics() *Metrics {
	metrics := new(Metrics)

	metrics.throttledMessagesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_throttled_message_count",
		Help: "The number of messages rejected by the message rate limiter",
	})

	metrics.throttledConnectionsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_throttled_connection_count",
		Help: "The number of connection attempts rejected by the rate limiter",
	})

	metrics.oversizedMessagesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_oversized_message_count",
		Help: "The number of messages rejected by the rate accounting size cap",
	})

	metrics.violationsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_rate_limit_violation_count",
		Help: "The number of rate limit violations recorded",
	})

	metrics.bansIssuedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_connector_ban_issued_count",
		Help: "The number of temporary bans issued",
	}, []string{"scope"})

	metrics.bannedAttemptsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_banned_attempt_count",
		Help: "The number of connection attempts rejected due to an active ban",
	})

	metrics.storeErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_rate_limit_store_error_count",
		Help: "The number of errors encountered talking to the rate limit store",
	})

	metrics.failClosedRejectionsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_rate_limit_fail_closed_count",
		Help: "The number of attempts rejected because the rate limit store was unreachable",
	})

	metrics.expiredBucketsRemovedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connector_rate_limit_expired_bucket_count",
		Help: "The number of expired rate limiter buckets garbage collected",
	})

	return metrics
}

var (
	metrics = NewMetrics()

	prometheusScopeOrigin = prometheus.Labels{"scope": "origin"}
	prometheusScopeUser   = prometheus.Labels{"scope": "user"}
)
