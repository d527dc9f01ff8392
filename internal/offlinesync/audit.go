package offlinesync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
)

// Auditor receives a record of every completed batch and resolution.  The
// analytics collaborator consumes these downstream.
type Auditor interface {
	RecordBatch(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, deviceID domain.DeviceID, result *BatchResult)
	RecordResolution(ctx context.Context, tenantID domain.TenantID, conflict *Conflict, record *SyncRecord, strategy ResolutionStrategy)
}

// NoopAuditor stands in when no audit topic is configured.
type NoopAuditor struct {
}

func (na *NoopAuditor) RecordBatch(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, deviceID domain.DeviceID, result *BatchResult) {
}

func (na *NoopAuditor) RecordResolution(ctx context.Context, tenantID domain.TenantID, conflict *Conflict, record *SyncRecord, strategy ResolutionStrategy) {
}

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaAuditor produces audit records to the audit topic.  Audit delivery is
// best effort, a produce failure never fails the sync call it describes.
type KafkaAuditor struct {
	writer kafkaWriter
}

func NewKafkaAuditor(writer *kafka.Writer) *KafkaAuditor {
	return &KafkaAuditor{writer: writer}
}

type batchAuditRecord struct {
	Event        string    `json:"event"`
	TenantID     string    `json:"tenant_id"`
	UserID       string    `json:"user_id"`
	DeviceID     string    `json:"device_id,omitempty"`
	TotalActions int       `json:"total_actions"`
	Successful   int       `json:"successful"`
	Failed       int       `json:"failed"`
	Conflicts    int       `json:"conflicts"`
	Timestamp    time.Time `json:"timestamp"`
}

type resolutionAuditRecord struct {
	Event        string    `json:"event"`
	TenantID     string    `json:"tenant_id"`
	ConflictID   string    `json:"conflict_id"`
	RecordID     string    `json:"record_id"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	ConflictType string    `json:"conflict_type"`
	Strategy     string    `json:"strategy"`
	Timestamp    time.Time `json:"timestamp"`
}

func (ka *KafkaAuditor) RecordBatch(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, deviceID domain.DeviceID, result *BatchResult) {
	ka.produce(ctx, tenantID, batchAuditRecord{
		Event:        "sync_batch_processed",
		TenantID:     tenantID.String(),
		UserID:       userID.String(),
		DeviceID:     deviceID.String(),
		TotalActions: result.TotalActions,
		Successful:   result.Successful,
		Failed:       result.Failed,
		Conflicts:    result.Conflicts,
		Timestamp:    time.Now().UTC(),
	})
}

func (ka *KafkaAuditor) RecordResolution(ctx context.Context, tenantID domain.TenantID, conflict *Conflict, record *SyncRecord, strategy ResolutionStrategy) {
	ka.produce(ctx, tenantID, resolutionAuditRecord{
		Event:        "sync_conflict_resolved",
		TenantID:     tenantID.String(),
		ConflictID:   conflict.ID,
		RecordID:     record.ID,
		EntityType:   record.EntityType.String(),
		EntityID:     record.EntityID,
		ConflictType: string(conflict.Kind),
		Strategy:     string(strategy),
		Timestamp:    time.Now().UTC(),
	})
}

func (ka *KafkaAuditor) produce(ctx context.Context, tenantID domain.TenantID, record interface{}) {

	payload, err := json.Marshal(record)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Error("Unable to marshal an audit record")
		return
	}

	err = ka.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tenantID),
		Value: payload,
	})
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err, "tenant_id": tenantID}).Error("Unable to produce an audit record")
	}
}
