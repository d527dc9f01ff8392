package events

import (
	"context"

	"github.com/orderpulse/realtime-connector/internal/broadcast"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/protocol"
)

// defaultAudience narrows the fan out for kinds that only a subset of device
// types cares about.  Kinds without an entry go to every connection type in
// the tenant.
var defaultAudience = map[protocol.MessageKind][]domain.ConnectionType{
	protocol.KindKitchenUpdate: {domain.ConnectionTypeKitchen, domain.ConnectionTypeDashboard},
	protocol.KindInventoryLow:  {domain.ConnectionTypeDashboard, domain.ConnectionTypePlatform},
}

// RouteEnvelope fans a business event out to the tenant named in the
// envelope.  The exclude user keeps an event from echoing back to the device
// that produced it.
func RouteEnvelope(ctx context.Context, broadcaster *broadcast.Broadcaster, envelope protocol.Envelope, excludeUser domain.UserID) {
	tenantID := domain.TenantID(envelope.TenantID)
	broadcaster.SendToTenant(ctx, tenantID, envelope, defaultAudience[envelope.Kind()], excludeUser)
}
