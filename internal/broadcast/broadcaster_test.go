package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/protocol"
	"github.com/orderpulse/realtime-connector/internal/registry"
)

func init() {
	logger.InitLogger()
}

type recordingSender struct {
	mutex     sync.Mutex
	envelopes []protocol.Envelope
	failSends bool
}

func (rs *recordingSender) SendEnvelope(ctx context.Context, envelope protocol.Envelope) error {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if rs.failSends {
		return errors.New("closed socket")
	}

	rs.envelopes = append(rs.envelopes, envelope)
	return nil
}

func (rs *recordingSender) SendPing(ctx context.Context) error {
	return nil
}

func (rs *recordingSender) Close(code int, reason string) {
}

func (rs *recordingSender) Received() []protocol.Envelope {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()
	return append([]protocol.Envelope(nil), rs.envelopes...)
}

type testHarness struct {
	registry    *registry.ConnectionRegistry
	broadcaster *Broadcaster
	senders     map[domain.ConnectionID]*recordingSender
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	offlineQueue, err := NewOfflineQueue(100, 100)
	if err != nil {
		t.Fatalf("Unable to build offline queue: %v", err)
	}

	connectionRegistry := registry.NewConnectionRegistry()

	return &testHarness{
		registry:    connectionRegistry,
		broadcaster: NewBroadcaster(connectionRegistry, offlineQueue),
		senders:     make(map[domain.ConnectionID]*recordingSender),
	}
}

func (th *testHarness) connect(t *testing.T, id, tenant, user string, connType domain.ConnectionType) *registry.Connection {
	t.Helper()

	sender := &recordingSender{}
	conn := &registry.Connection{
		ID:        domain.ConnectionID(id),
		TenantID:  domain.TenantID(tenant),
		UserID:    domain.UserID(user),
		Type:      connType,
		Transport: sender,
	}

	if err := th.registry.Register(context.TODO(), conn); err != nil {
		t.Fatalf("Unable to register connection: %v", err)
	}

	th.senders[conn.ID] = sender
	return conn
}

func buildEvent(t *testing.T, kind protocol.MessageKind, tenant string) protocol.Envelope {
	t.Helper()

	envelope, err := protocol.BuildEnvelope(kind, domain.TenantID(tenant), map[string]string{"entity": "order-1"})
	if err != nil {
		t.Fatalf("Unable to build envelope: %v", err)
	}

	return envelope
}

func TestSendToTenantExcludingUser(t *testing.T) {
	th := newTestHarness(t)

	th.connect(t, "conn-1", "tenant-1", "user-1", domain.ConnectionTypeTerminal)
	th.connect(t, "conn-2", "tenant-1", "user-1", domain.ConnectionTypeDashboard)
	th.connect(t, "conn-3", "tenant-1", "user-2", domain.ConnectionTypeTerminal)
	th.connect(t, "conn-4", "tenant-2", "user-3", domain.ConnectionTypeTerminal)

	event := buildEvent(t, protocol.KindOrderStatusChanged, "tenant-1")
	th.broadcaster.SendToTenant(context.TODO(), "tenant-1", event, nil, "user-1")

	// user-1 has two connections; neither may receive the event
	if len(th.senders["conn-1"].Received()) != 0 || len(th.senders["conn-2"].Received()) != 0 {
		t.Fatalf("Expected the excluded user's connections to receive nothing")
	}

	if len(th.senders["conn-3"].Received()) != 1 {
		t.Fatalf("Expected the other tenant member to receive the event")
	}

	if len(th.senders["conn-4"].Received()) != 0 {
		t.Fatalf("Expected the other tenant to receive nothing")
	}
}

func TestSendToTenantWithTypeFilter(t *testing.T) {
	th := newTestHarness(t)

	th.connect(t, "conn-1", "tenant-1", "user-1", domain.ConnectionTypeTerminal)
	th.connect(t, "conn-2", "tenant-1", "user-2", domain.ConnectionTypeKitchen)
	th.connect(t, "conn-3", "tenant-1", "user-3", domain.ConnectionTypeDashboard)

	event := buildEvent(t, protocol.KindKitchenUpdate, "tenant-1")
	th.broadcaster.SendToTenant(context.TODO(), "tenant-1", event, []domain.ConnectionType{domain.ConnectionTypeKitchen, domain.ConnectionTypeDashboard}, "")

	if len(th.senders["conn-1"].Received()) != 0 {
		t.Fatalf("Expected the terminal to be filtered out")
	}

	if len(th.senders["conn-2"].Received()) != 1 || len(th.senders["conn-3"].Received()) != 1 {
		t.Fatalf("Expected the kitchen and dashboard connections to receive the event")
	}
}

func TestSendToType(t *testing.T) {
	th := newTestHarness(t)

	th.connect(t, "conn-1", "tenant-1", "user-1", domain.ConnectionTypeKitchen)
	th.connect(t, "conn-2", "tenant-2", "user-2", domain.ConnectionTypeKitchen)

	event := buildEvent(t, protocol.KindKitchenUpdate, "tenant-1")
	th.broadcaster.SendToType(context.TODO(), "tenant-1", domain.ConnectionTypeKitchen, event)

	if len(th.senders["conn-1"].Received()) != 1 {
		t.Fatalf("Expected the tenant-1 kitchen display to receive the event")
	}

	if len(th.senders["conn-2"].Received()) != 0 {
		t.Fatalf("Expected the tenant-2 kitchen display to receive nothing")
	}
}

func TestSendToOfflineUserQueuesAndFlushes(t *testing.T) {
	th := newTestHarness(t)

	event := buildEvent(t, protocol.KindPaymentCompleted, "tenant-1")
	th.broadcaster.SendToUser(context.TODO(), "user-1", event)

	// The user connects and the queued message is flushed
	conn := th.connect(t, "conn-1", "tenant-1", "user-1", domain.ConnectionTypeTerminal)
	th.broadcaster.FlushOfflineMessages(context.TODO(), conn)

	received := th.senders["conn-1"].Received()
	if len(received) != 1 {
		t.Fatalf("Expected 1 flushed message, got %d", len(received))
	}

	if received[0].Type != protocol.KindPaymentCompleted.String() {
		t.Fatalf("Unexpected flushed message type: %s", received[0].Type)
	}

	// A second flush must deliver nothing
	th.broadcaster.FlushOfflineMessages(context.TODO(), conn)
	if len(th.senders["conn-1"].Received()) != 1 {
		t.Fatalf("Expected the queue to be drained by the first flush")
	}
}

func TestOfflineFlushIsScopedToTenant(t *testing.T) {
	th := newTestHarness(t)

	tenant1Event := buildEvent(t, protocol.KindDataUpdated, "tenant-1")
	tenant2Event := buildEvent(t, protocol.KindDataUpdated, "tenant-2")

	th.broadcaster.SendToUser(context.TODO(), "user-1", tenant1Event)
	th.broadcaster.SendToUser(context.TODO(), "user-1", tenant2Event)

	conn := th.connect(t, "conn-1", "tenant-1", "user-1", domain.ConnectionTypeTerminal)
	th.broadcaster.FlushOfflineMessages(context.TODO(), conn)

	received := th.senders["conn-1"].Received()
	if len(received) != 1 {
		t.Fatalf("Expected only the tenant-1 message to be flushed, got %d messages", len(received))
	}

	if received[0].TenantID != "tenant-1" {
		t.Fatalf("Expected the flushed message to belong to tenant-1, got %s", received[0].TenantID)
	}
}

func TestOfflineQueueBound(t *testing.T) {
	offlineQueue, err := NewOfflineQueue(100, 100)
	if err != nil {
		t.Fatalf("Unable to build offline queue: %v", err)
	}

	for i := 0; i < 150; i++ {
		envelope, _ := protocol.BuildEnvelope(protocol.KindDataUpdated, "tenant-1", map[string]int{"seq": i})
		offlineQueue.Enqueue("user-1", envelope)
	}

	drained := offlineQueue.Drain("user-1", "tenant-1")
	if len(drained) != 100 {
		t.Fatalf("Expected the queue to be bounded to 100 entries, got %d", len(drained))
	}

	// The oldest 50 entries were dropped; the first remaining is seq 50
	var payload map[string]int
	if err := json.Unmarshal(drained[0].Data, &payload); err != nil {
		t.Fatalf("Unable to unmarshal payload: %v", err)
	}
	if payload["seq"] != 50 {
		t.Fatalf("Expected the most recent 100 entries to be kept, first seq was %d", payload["seq"])
	}
}

func TestSendFailureTriggersDisconnect(t *testing.T) {
	th := newTestHarness(t)

	conn := th.connect(t, "conn-1", "tenant-1", "user-1", domain.ConnectionTypeTerminal)
	th.senders[conn.ID].failSends = true

	event := buildEvent(t, protocol.KindDataUpdated, "tenant-1")
	th.broadcaster.Send(context.TODO(), conn.ID, event)

	if th.registry.GetConnection(conn.ID) != nil {
		t.Fatalf("Expected a failed send to remove the connection from the registry")
	}
}

func TestSendToUnknownConnection(t *testing.T) {
	th := newTestHarness(t)
	event := buildEvent(t, protocol.KindDataUpdated, "tenant-1")
	th.broadcaster.Send(context.TODO(), "not gonna find me", event)
}
