package offlinesync

import (
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/orderpulse/realtime-connector/internal/domain"
)

// comparedFields enumerates the business fields that matter for timestamp
// conflict classification, per entity type.  Fields outside this list can
// drift without raising a conflict.
var comparedFields = map[domain.EntityType][]string{
	domain.EntityTypeOrder:     {"status", "total", "items"},
	domain.EntityTypeProduct:   {"price", "name", "available"},
	domain.EntityTypePayment:   {"status", "amount", "method"},
	domain.EntityTypeInventory: {"quantity", "reorder_level"},
}

// detectUpdateConflict classifies an update against the authoritative
// snapshot.  The snapshot wins a conflict only when it is strictly newer than
// the client's declared baseline and an enumerated field actually differs.
func detectUpdateConflict(record *SyncRecord, snapshot *EntitySnapshot, detectedAt time.Time) (*Conflict, error) {

	if !snapshot.UpdatedAt.After(record.ClientTimestamp) {
		return nil, nil
	}

	fields, err := differingFields(record.EntityType, snapshot.Data, record.Payload)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}

	return &Conflict{
		ID:             uuid.NewString(),
		SyncRecordID:   record.ID,
		Kind:           ConflictTimestamp,
		ConflictFields: fields,
		ServerSnapshot: snapshot.Data,
		DetectedAt:     detectedAt,
	}, nil
}

func newExistenceConflict(record *SyncRecord, kind ConflictKind, snapshot json.RawMessage, detectedAt time.Time) *Conflict {
	return &Conflict{
		ID:             uuid.NewString(),
		SyncRecordID:   record.ID,
		Kind:           kind,
		ServerSnapshot: snapshot,
		DetectedAt:     detectedAt,
	}
}

func differingFields(entityType domain.EntityType, serverData json.RawMessage, clientData json.RawMessage) ([]string, error) {

	var server, client map[string]interface{}
	if err := json.Unmarshal(serverData, &server); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(clientData, &client); err != nil {
		return nil, err
	}

	var fields []string
	for _, field := range comparedFields[entityType] {
		clientValue, clientHas := client[field]
		if !clientHas {
			// Partial update payloads only conflict on the fields they carry
			continue
		}

		serverValue, serverHas := server[field]
		if !serverHas || !reflect.DeepEqual(serverValue, clientValue) {
			fields = append(fields, field)
		}
	}

	sort.Strings(fields)
	return fields, nil
}
