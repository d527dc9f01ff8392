package broadcast

import (
	"context"

	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/protocol"
	"github.com/orderpulse/realtime-connector/internal/registry"

	"github.com/sirupsen/logrus"
)

// Broadcaster fans events out to filtered sets of active connections.  All
// iteration happens over registry snapshots, never the live index maps, and
// a failed send is treated as an implicit disconnect rather than an error
// surfaced to the caller.
type Broadcaster struct {
	registry *registry.ConnectionRegistry
	offline  *OfflineQueue
}

func NewBroadcaster(connectionRegistry *registry.ConnectionRegistry, offlineQueue *OfflineQueue) *Broadcaster {
	return &Broadcaster{
		registry: connectionRegistry,
		offline:  offlineQueue,
	}
}

// Send delivers one envelope to one connection.
func (b *Broadcaster) Send(ctx context.Context, connectionID domain.ConnectionID, envelope protocol.Envelope) {
	conn := b.registry.GetConnection(connectionID)
	if conn == nil {
		return
	}

	b.deliver(ctx, conn, envelope)
}

// SendToTenant delivers to every connection of a tenant, optionally filtered
// to a set of connection types, optionally excluding every connection of one
// user.
func (b *Broadcaster) SendToTenant(ctx context.Context, tenantID domain.TenantID, envelope protocol.Envelope, types []domain.ConnectionType, excludeUserID domain.UserID) {
	for _, conn := range b.registry.GetConnectionsByTenant(tenantID) {
		if excludeUserID != "" && conn.UserID == excludeUserID {
			continue
		}
		if len(types) > 0 && !containsType(types, conn.Type) {
			continue
		}
		b.deliver(ctx, conn, envelope)
	}
}

// SendToUser delivers to every connection of a user.  When the user has no
// registered connection, the envelope is queued and flushed on the user's
// next successful authentication.
func (b *Broadcaster) SendToUser(ctx context.Context, userID domain.UserID, envelope protocol.Envelope) {
	conns := b.registry.GetConnectionsByUser(userID)
	if len(conns) == 0 {
		b.offline.Enqueue(userID, envelope)
		return
	}

	for _, conn := range conns {
		b.deliver(ctx, conn, envelope)
	}
}

// SendToType delivers to every connection of one type within a tenant.
func (b *Broadcaster) SendToType(ctx context.Context, tenantID domain.TenantID, connectionType domain.ConnectionType, envelope protocol.Envelope) {
	for _, conn := range b.registry.GetConnectionsByType(tenantID, connectionType) {
		b.deliver(ctx, conn, envelope)
	}
}

// FlushOfflineMessages delivers the messages queued for a user while they
// were offline, scoped to the tenant of the connection they just
// authenticated on.
func (b *Broadcaster) FlushOfflineMessages(ctx context.Context, conn *registry.Connection) {
	queued := b.offline.Drain(conn.UserID, conn.TenantID)
	if len(queued) == 0 {
		return
	}

	logger.Log.WithFields(logrus.Fields{
		"connection_id": conn.ID,
		"user_id":       conn.UserID,
		"count":         len(queued)}).Debug("Flushing queued offline messages")

	for _, envelope := range queued {
		b.deliver(ctx, conn, envelope)
	}
}

func (b *Broadcaster) deliver(ctx context.Context, conn *registry.Connection, envelope protocol.Envelope) {
	if err := conn.Transport.SendEnvelope(ctx, envelope); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"error":         err,
			"connection_id": conn.ID}).Debug("Send failed, disconnecting")
		metrics.sendFailureCounter.Inc()
		b.registry.Disconnect(ctx, conn.ID, "send failure")
		return
	}

	metrics.deliveredMessageCounter.With(map[string]string{"type": envelope.Type}).Inc()
}

func containsType(types []domain.ConnectionType, connectionType domain.ConnectionType) bool {
	for _, t := range types {
		if t == connectionType {
			return true
		}
	}
	return false
}
