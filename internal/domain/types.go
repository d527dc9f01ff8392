package domain

import "time"

type TenantID string

func (tid TenantID) String() string {
	return string(tid)
}

type UserID string

func (uid UserID) String() string {
	return string(uid)
}

type DeviceID string

func (did DeviceID) String() string {
	return string(did)
}

type ConnectionID string

func (cid ConnectionID) String() string {
	return string(cid)
}

// ConnectionType tags what kind of device sits behind a connection.
type ConnectionType string

const (
	ConnectionTypeTerminal  ConnectionType = "terminal"
	ConnectionTypeKitchen   ConnectionType = "kitchen"
	ConnectionTypeDashboard ConnectionType = "dashboard"
	ConnectionTypePlatform  ConnectionType = "platform"
)

func (ct ConnectionType) String() string {
	return string(ct)
}

func (ct ConnectionType) Valid() bool {
	switch ct {
	case ConnectionTypeTerminal, ConnectionTypeKitchen, ConnectionTypeDashboard, ConnectionTypePlatform:
		return true
	}
	return false
}

type EntityType string

const (
	EntityTypeOrder     EntityType = "orders"
	EntityTypeProduct   EntityType = "products"
	EntityTypePayment   EntityType = "payments"
	EntityTypeInventory EntityType = "inventory"
)

func (et EntityType) String() string {
	return string(et)
}

func (et EntityType) Valid() bool {
	switch et {
	case EntityTypeOrder, EntityTypeProduct, EntityTypePayment, EntityTypeInventory:
		return true
	}
	return false
}

// VerifiedIdentity is what the credential verification collaborator hands back
// for a valid token.
type VerifiedIdentity struct {
	UserID    UserID
	Tenants   []TenantID
	SuperUser bool
	ExpiresAt time.Time
}

func (vi VerifiedIdentity) MemberOf(tenant TenantID) bool {
	if vi.SuperUser {
		return true
	}
	for _, t := range vi.Tenants {
		if t == tenant {
			return true
		}
	}
	return false
}
