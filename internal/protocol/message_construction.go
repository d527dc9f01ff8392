package protocol

import (
	"encoding/json"
	"time"

	"github.com/orderpulse/realtime-connector/internal/domain"

	"github.com/google/uuid"
)

func BuildEnvelope(kind MessageKind, tenant domain.TenantID, payload interface{}) (Envelope, error) {

	var data json.RawMessage
	var err error

	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
	}

	messageID, err := uuid.NewRandom()
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		ID:        messageID.String(),
		Type:      kind.String(),
		Data:      data,
		TenantID:  tenant.String(),
		Timestamp: time.Now().UTC(),
	}, nil
}

func BuildErrorEnvelope(tenant domain.TenantID, message string, reason string, retryAfter time.Duration) Envelope {

	payload := ErrorPayload{
		Message: message,
		Reason:  reason,
	}

	if retryAfter > 0 {
		payload.RetryAfter = int64(retryAfter.Round(time.Second) / time.Second)
	}

	// The payload marshals unconditionally, so the error path cannot fail.
	envelope, _ := BuildEnvelope(KindError, tenant, payload)
	return envelope
}

func BuildAuthErrorEnvelope(tenant domain.TenantID, message string) Envelope {
	envelope, _ := BuildEnvelope(KindAuthError, tenant, ErrorPayload{Message: message})
	return envelope
}

func BuildPongEnvelope(tenant domain.TenantID, respondingTo string) Envelope {
	envelope, _ := BuildEnvelope(KindPong, tenant, map[string]string{"response_to": respondingTo})
	return envelope
}
