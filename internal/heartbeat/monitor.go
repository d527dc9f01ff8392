package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/registry"

	"github.com/sirupsen/logrus"
)

// Monitor supervises connection liveness.  Client initiated pings are
// treated as sufficient proof of life; the monitor only probes connections
// that have gone quiet, and disconnects them after repeated unanswered
// probes.  The same loop periodically garbage collects expired rate limiter
// buckets so no extra background task is needed for that.
type Monitor struct {
	registry       *registry.ConnectionRegistry
	interval       time.Duration
	maxMissedPongs int
	gcCycles       int
	gc             func()

	cycleCount int
	now        func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewMonitor(connectionRegistry *registry.ConnectionRegistry, cfg *config.Config, rateLimiterGC func()) *Monitor {
	return &Monitor{
		registry:       connectionRegistry,
		interval:       cfg.HeartbeatInterval,
		maxMissedPongs: cfg.MaxMissedPongs,
		gcCycles:       cfg.RateLimiterGcCycles,
		gc:             rateLimiterGC,
		now:            time.Now,
		stopChan:       make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	logger.Log.Info("Starting heartbeat monitor, interval: ", m.interval)

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.runCycle(context.Background())
			case <-m.stopChan:
				logger.Log.Info("Heartbeat monitor stopped")
				return
			}
		}
	}()
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

func (m *Monitor) runCycle(ctx context.Context) {
	defer func() {
		// A panic on one cycle must not take down the shared loop
		if r := recover(); r != nil {
			logger.Log.WithFields(logrus.Fields{"panic": r}).Error("Recovered from panic in heartbeat cycle")
		}
	}()

	m.cycleCount++

	for _, conn := range m.registry.GetAllConnections() {
		m.superviseConnection(ctx, conn)
	}

	if m.gc != nil && m.cycleCount%m.gcCycles == 0 {
		logger.Log.Debug("Running rate limiter bucket GC")
		m.gc()
	}
}

func (m *Monitor) superviseConnection(ctx context.Context, conn *registry.Connection) {

	if conn.ProbeOutstanding() {
		missed := conn.RecordMissedPong()
		metrics.missedPongCounter.Inc()

		if missed >= m.maxMissedPongs {
			logger.Log.WithFields(logrus.Fields{
				"connection_id": conn.ID,
				"missed_pongs":  missed}).Info("Heartbeat failure, disconnecting")
			metrics.heartbeatDisconnectCounter.Inc()
			m.registry.Disconnect(ctx, conn.ID, "heartbeat timeout")
			return
		}
	}

	// A connection with recent client initiated liveness needs no probing
	if m.now().Sub(conn.LastLiveness()) < 2*m.interval {
		return
	}

	if err := conn.Transport.SendPing(ctx); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"error":         err,
			"connection_id": conn.ID}).Debug("Ping failed, disconnecting")
		m.registry.Disconnect(ctx, conn.ID, "send failure")
		return
	}

	metrics.probesSentCounter.Inc()
	conn.SetProbeOutstanding()
}
