package protocol

import (
	"encoding/json"
	"time"
)

// Close codes used on the websocket endpoint.
const (
	CloseInternalError = 4000
	CloseAuthRequired  = 4001
	CloseAuthTimeout   = 4002
	CloseAuthFailed    = 4003
)

// MessageKind is the closed set of message types the connector understands.
// Dispatch on kinds is exhaustive, so adding a kind is a compile time checked
// change.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindAuthenticate
	KindAuthenticated
	KindPing
	KindPong
	KindError
	KindAuthError
	KindOrderStatusChanged
	KindDataUpdated
	KindKitchenUpdate
	KindInventoryLow
	KindPaymentCompleted
	KindSyncCompleted
)

var kindNames = map[MessageKind]string{
	KindAuthenticate:       "authenticate",
	KindAuthenticated:      "authenticated",
	KindPing:               "ping",
	KindPong:               "pong",
	KindError:              "error",
	KindAuthError:          "auth_error",
	KindOrderStatusChanged: "order_status_changed",
	KindDataUpdated:        "data_updated",
	KindKitchenUpdate:      "kitchen_update",
	KindInventoryLow:       "inventory_low",
	KindPaymentCompleted:   "payment_completed",
	KindSyncCompleted:      "sync_completed",
}

var kindValues = func() map[string]MessageKind {
	values := make(map[string]MessageKind, len(kindNames))
	for kind, name := range kindNames {
		values[name] = kind
	}
	return values
}()

func (k MessageKind) String() string {
	name, exists := kindNames[k]
	if !exists {
		return "unknown"
	}
	return name
}

func ParseMessageKind(name string) MessageKind {
	kind, exists := kindValues[name]
	if !exists {
		return KindUnknown
	}
	return kind
}

// Envelope is the wire format of every message on a websocket connection.
// The data payload is opaque to the connector for business event kinds.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	TenantID  string          `json:"tenant_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (e Envelope) Kind() MessageKind {
	return ParseMessageKind(e.Type)
}

type AuthenticatePayload struct {
	Token      string `json:"token"`
	UserID     string `json:"user_id"`
	TenantID   string `json:"tenant_id"`
	DeviceID   string `json:"device_id,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

type AuthenticatedPayload struct {
	ConnectionID string `json:"connection_id"`
}

type ErrorPayload struct {
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}
