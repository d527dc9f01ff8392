package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/protocol"
	"github.com/orderpulse/realtime-connector/internal/registry"
)

func init() {
	logger.InitLogger()
}

type pingRecordingSender struct {
	mutex     sync.Mutex
	pingCalls int
	panicOn   bool
}

func (ps *pingRecordingSender) SendEnvelope(ctx context.Context, envelope protocol.Envelope) error {
	return nil
}

func (ps *pingRecordingSender) SendPing(ctx context.Context) error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	if ps.panicOn {
		panic("boom")
	}

	ps.pingCalls++
	return nil
}

func (ps *pingRecordingSender) Close(code int, reason string) {
}

func (ps *pingRecordingSender) PingCalls() int {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	return ps.pingCalls
}

type monitorHarness struct {
	registry *registry.ConnectionRegistry
	monitor  *Monitor
	clock    time.Time
	gcCalls  int
}

func newMonitorHarness(t *testing.T) *monitorHarness {
	t.Helper()

	harness := &monitorHarness{
		registry: registry.NewConnectionRegistry(),
		clock:    time.Now(),
	}

	harness.monitor = NewMonitor(harness.registry, config.GetConfig(), func() { harness.gcCalls++ })
	harness.monitor.now = func() time.Time { return harness.clock }

	return harness
}

func (mh *monitorHarness) connect(t *testing.T, id string) (*registry.Connection, *pingRecordingSender) {
	t.Helper()

	sender := &pingRecordingSender{}
	conn := &registry.Connection{
		ID:        domain.ConnectionID(id),
		TenantID:  "tenant-1",
		UserID:    "user-1",
		Type:      domain.ConnectionTypeTerminal,
		Transport: sender,
	}

	if err := mh.registry.Register(context.TODO(), conn); err != nil {
		t.Fatalf("Unable to register connection: %v", err)
	}

	return conn, sender
}

func TestQuietConnectionGetsProbed(t *testing.T) {
	mh := newMonitorHarness(t)
	_, sender := mh.connect(t, "conn-1")

	// Within two intervals of the last liveness signal nothing happens
	mh.clock = mh.clock.Add(20 * time.Second)
	mh.monitor.runCycle(context.TODO())
	if sender.PingCalls() != 0 {
		t.Fatalf("Expected no probe inside the idle grace period")
	}

	mh.clock = mh.clock.Add(15 * time.Second)
	mh.monitor.runCycle(context.TODO())
	if sender.PingCalls() != 1 {
		t.Fatalf("Expected a probe after two idle intervals, got %d", sender.PingCalls())
	}
}

func TestDisconnectAfterThreeMissedPongs(t *testing.T) {
	mh := newMonitorHarness(t)
	conn, _ := mh.connect(t, "conn-1")

	mh.clock = mh.clock.Add(31 * time.Second)
	mh.monitor.runCycle(context.TODO()) // sends the first probe

	for i := 0; i < 2; i++ {
		mh.clock = mh.clock.Add(15 * time.Second)
		mh.monitor.runCycle(context.TODO())
		if mh.registry.GetConnection(conn.ID) == nil {
			t.Fatalf("Expected the connection to survive %d missed pongs", i+1)
		}
	}

	mh.clock = mh.clock.Add(15 * time.Second)
	mh.monitor.runCycle(context.TODO()) // third consecutive miss

	if mh.registry.GetConnection(conn.ID) != nil {
		t.Fatalf("Expected the connection to be absent from the registry after 3 missed pongs")
	}
}

func TestLivenessSignalResetsSupervision(t *testing.T) {
	mh := newMonitorHarness(t)
	conn, _ := mh.connect(t, "conn-1")

	mh.clock = mh.clock.Add(31 * time.Second)
	mh.monitor.runCycle(context.TODO())

	mh.clock = mh.clock.Add(15 * time.Second)
	mh.monitor.runCycle(context.TODO())

	if conn.MissedPongs() != 1 {
		t.Fatalf("Expected 1 missed pong, got %d", conn.MissedPongs())
	}

	// A client ping arrives
	conn.MarkLiveness()

	if conn.MissedPongs() != 0 {
		t.Fatalf("Expected the liveness signal to reset the missed pong counter")
	}

	mh.monitor.runCycle(context.TODO())
	if mh.registry.GetConnection(conn.ID) == nil {
		t.Fatalf("Expected the connection to stay registered after a liveness signal")
	}
}

func TestRateLimiterGCRunsEveryTwentiethCycle(t *testing.T) {
	mh := newMonitorHarness(t)

	for i := 0; i < 39; i++ {
		mh.monitor.runCycle(context.TODO())
	}
	if mh.gcCalls != 1 {
		t.Fatalf("Expected 1 GC run after 39 cycles, got %d", mh.gcCalls)
	}

	mh.monitor.runCycle(context.TODO())
	if mh.gcCalls != 2 {
		t.Fatalf("Expected 2 GC runs after 40 cycles, got %d", mh.gcCalls)
	}
}

func TestCycleSurvivesPanickingTransport(t *testing.T) {
	mh := newMonitorHarness(t)
	_, sender := mh.connect(t, "conn-1")
	sender.panicOn = true

	mh.clock = mh.clock.Add(31 * time.Second)
	mh.monitor.runCycle(context.TODO())
	// No panic escaping runCycle is the assertion here
}
