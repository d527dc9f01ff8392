package registry

import (
	"context"
	"sync"
	"time"

	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/protocol"

	"github.com/sirupsen/logrus"
)

type DuplicateConnectionError struct {
}

func (d DuplicateConnectionError) Error() string {
	return "duplicate connection id"
}

// Sender is the transport side of a connection.  The websocket layer
// implements it; tests use fakes.
type Sender interface {
	SendEnvelope(ctx context.Context, envelope protocol.Envelope) error
	SendPing(ctx context.Context) error
	Close(code int, reason string)
}

// Connection is the registry's record of one authenticated session.  The
// registry owns the struct; the heartbeat monitor and websocket layer mutate
// the liveness state through the accessor methods.
type Connection struct {
	ID            domain.ConnectionID
	TenantID      domain.TenantID
	UserID        domain.UserID
	Type          domain.ConnectionType
	DeviceID      domain.DeviceID
	Origin        string
	EstablishedAt time.Time
	Transport     Sender

	mutex            sync.Mutex
	lastLiveness     time.Time
	missedPongs      int
	probeOutstanding bool

	closeOnce sync.Once
}

// MarkLiveness records any client initiated liveness signal.  It clears the
// missed pong counter and any outstanding probe.
func (c *Connection) MarkLiveness() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.lastLiveness = time.Now()
	c.missedPongs = 0
	c.probeOutstanding = false
}

func (c *Connection) LastLiveness() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.lastLiveness
}

func (c *Connection) ProbeOutstanding() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.probeOutstanding
}

func (c *Connection) SetProbeOutstanding() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.probeOutstanding = true
}

// RecordMissedPong counts one unanswered probe and returns the new total.
func (c *Connection) RecordMissedPong() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.missedPongs++
	c.probeOutstanding = false
	return c.missedPongs
}

func (c *Connection) MissedPongs() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.missedPongs
}

// ConnectionRegistry is the single source of truth for the connections this
// instance owns.  Connections are indexed by tenant, by user and by
// connection type within a tenant.
type ConnectionRegistry struct {
	sync.RWMutex
	connections map[domain.ConnectionID]*Connection
	byTenant    map[domain.TenantID]map[domain.ConnectionID]*Connection
	byUser      map[domain.UserID]map[domain.ConnectionID]*Connection
	byType      map[domain.TenantID]map[domain.ConnectionType]map[domain.ConnectionID]*Connection
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		connections: make(map[domain.ConnectionID]*Connection),
		byTenant:    make(map[domain.TenantID]map[domain.ConnectionID]*Connection),
		byUser:      make(map[domain.UserID]map[domain.ConnectionID]*Connection),
		byType:      make(map[domain.TenantID]map[domain.ConnectionType]map[domain.ConnectionID]*Connection),
	}
}

// Register adds an authenticated connection to all indices.  Only the
// authentication gate calls this; unauthenticated sockets never appear here.
func (cr *ConnectionRegistry) Register(ctx context.Context, conn *Connection) error {
	cr.Lock()
	defer cr.Unlock()

	if _, exists := cr.connections[conn.ID]; exists {
		logger.Log.WithFields(logrus.Fields{"connection_id": conn.ID}).Warn("Attempting to register duplicate connection")
		return DuplicateConnectionError{}
	}

	conn.lastLiveness = time.Now()

	cr.connections[conn.ID] = conn

	if _, exists := cr.byTenant[conn.TenantID]; !exists {
		cr.byTenant[conn.TenantID] = make(map[domain.ConnectionID]*Connection)
	}
	cr.byTenant[conn.TenantID][conn.ID] = conn

	if _, exists := cr.byUser[conn.UserID]; !exists {
		cr.byUser[conn.UserID] = make(map[domain.ConnectionID]*Connection)
	}
	cr.byUser[conn.UserID][conn.ID] = conn

	if _, exists := cr.byType[conn.TenantID]; !exists {
		cr.byType[conn.TenantID] = make(map[domain.ConnectionType]map[domain.ConnectionID]*Connection)
	}
	if _, exists := cr.byType[conn.TenantID][conn.Type]; !exists {
		cr.byType[conn.TenantID][conn.Type] = make(map[domain.ConnectionID]*Connection)
	}
	cr.byType[conn.TenantID][conn.Type][conn.ID] = conn

	metrics.connectionGauge.With(map[string]string{"type": conn.Type.String()}).Inc()
	metrics.registeredConnectionCounter.Inc()

	logger.Log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"tenant_id":     conn.TenantID,
		"user_id":       conn.UserID,
		"type":          conn.Type}).Info("Registered a connection")

	return nil
}

// Disconnect removes a connection and closes its transport.  It is
// idempotent and safe to call concurrently from the transport error path,
// the heartbeat monitor and explicit logout; the per connection closeOnce
// guarantees the index cleanup runs exactly once.
func (cr *ConnectionRegistry) Disconnect(ctx context.Context, connectionID domain.ConnectionID, reason string) {
	cr.RLock()
	conn, exists := cr.connections[connectionID]
	cr.RUnlock()

	if !exists {
		return
	}

	conn.closeOnce.Do(func() {
		cr.Lock()
		cr.deindex(conn)
		cr.Unlock()

		conn.Transport.Close(protocol.CloseInternalError, reason)

		metrics.connectionGauge.With(map[string]string{"type": conn.Type.String()}).Dec()
		metrics.disconnectedConnectionCounter.With(map[string]string{"reason": reason}).Inc()

		logger.Log.WithFields(logrus.Fields{
			"connection_id": conn.ID,
			"tenant_id":     conn.TenantID,
			"user_id":       conn.UserID,
			"reason":        reason}).Info("Unregistered a connection")
	})
}

// deindex removes the connection from every secondary index before the
// primary map.  Empty index keys are deleted so the maps cannot grow without
// bound as tenants and users come and go.
func (cr *ConnectionRegistry) deindex(conn *Connection) {
	if tenantConns, exists := cr.byTenant[conn.TenantID]; exists {
		delete(tenantConns, conn.ID)
		if len(tenantConns) == 0 {
			delete(cr.byTenant, conn.TenantID)
		}
	}

	if userConns, exists := cr.byUser[conn.UserID]; exists {
		delete(userConns, conn.ID)
		if len(userConns) == 0 {
			delete(cr.byUser, conn.UserID)
		}
	}

	if tenantTypes, exists := cr.byType[conn.TenantID]; exists {
		if typeConns, exists := tenantTypes[conn.Type]; exists {
			delete(typeConns, conn.ID)
			if len(typeConns) == 0 {
				delete(tenantTypes, conn.Type)
			}
		}
		if len(tenantTypes) == 0 {
			delete(cr.byType, conn.TenantID)
		}
	}

	delete(cr.connections, conn.ID)
}

func (cr *ConnectionRegistry) GetConnection(connectionID domain.ConnectionID) *Connection {
	cr.RLock()
	defer cr.RUnlock()
	return cr.connections[connectionID]
}

// GetConnectionsByTenant returns a snapshot slice, never the live index, so
// callers can iterate while connects and disconnects proceed concurrently.
func (cr *ConnectionRegistry) GetConnectionsByTenant(tenantID domain.TenantID) []*Connection {
	cr.RLock()
	defer cr.RUnlock()
	return snapshot(cr.byTenant[tenantID])
}

func (cr *ConnectionRegistry) GetConnectionsByUser(userID domain.UserID) []*Connection {
	cr.RLock()
	defer cr.RUnlock()
	return snapshot(cr.byUser[userID])
}

func (cr *ConnectionRegistry) GetConnectionsByType(tenantID domain.TenantID, connectionType domain.ConnectionType) []*Connection {
	cr.RLock()
	defer cr.RUnlock()

	tenantTypes, exists := cr.byType[tenantID]
	if !exists {
		return nil
	}

	return snapshot(tenantTypes[connectionType])
}

func (cr *ConnectionRegistry) GetAllConnections() []*Connection {
	cr.RLock()
	defer cr.RUnlock()
	return snapshot(cr.connections)
}

// Connection quotas are enforced against this process local state only.
// Under horizontal scaling the counts under-report the platform wide totals;
// strict global enforcement would need a shared registry.
func (cr *ConnectionRegistry) CountForTenant(tenantID domain.TenantID) int {
	cr.RLock()
	defer cr.RUnlock()
	return len(cr.byTenant[tenantID])
}

func (cr *ConnectionRegistry) CountForUser(userID domain.UserID) int {
	cr.RLock()
	defer cr.RUnlock()
	return len(cr.byUser[userID])
}

func snapshot(connections map[domain.ConnectionID]*Connection) []*Connection {
	if len(connections) == 0 {
		return nil
	}

	conns := make([]*Connection, 0, len(connections))
	for _, conn := range connections {
		conns = append(conns, conn)
	}

	return conns
}
