package offlinesync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/orderpulse/realtime-connector/internal/broadcast"
	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/protocol"
)

// Engine reconciles queued client mutations with authoritative state and
// announces the outcome through the broadcaster.
type Engine struct {
	store           Store
	broadcaster     *broadcast.Broadcaster
	auditor         Auditor
	defaultLookback time.Duration
	maxBatchSize    int

	now func() time.Time
}

func NewEngine(store Store, broadcaster *broadcast.Broadcaster, auditor Auditor, cfg *config.Config) *Engine {
	return &Engine{
		store:           store,
		broadcaster:     broadcaster,
		auditor:         auditor,
		defaultLookback: cfg.SyncDefaultLookback,
		maxBatchSize:    cfg.SyncMaxBatchSize,
		now:             time.Now,
	}
}

// BatchUpload processes a batch record by record.  One record's failure is
// recorded on that record only; the transaction commits as long as anything
// succeeded or a conflict entered the pending set.  Only systemic failures
// (store unreachable, oversized batch) surface as an error.
func (e *Engine) BatchUpload(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, deviceID domain.DeviceID, actions []Action) (*BatchResult, error) {

	if len(actions) > e.maxBatchSize {
		return nil, ErrBatchTooLarge
	}

	callDurationTimer := prometheus.NewTimer(metrics.batchDuration)
	defer callDurationTimer.ObserveDuration()

	log := logger.Log.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"user_id":   userID,
		"device_id": deviceID,
		"actions":   len(actions)})

	tx, err := e.store.Begin(ctx)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err}).Error("Unable to begin a sync transaction")
		return nil, err
	}

	result := &BatchResult{
		TotalActions:      len(actions),
		ProcessedActions:  make([]ProcessedAction, 0, len(actions)),
		ConflictsDetected: []ConflictDescriptor{},
		Errors:            []string{},
	}

	receivedAt := e.now()

	for _, action := range actions {
		record := e.buildRecord(tenantID, userID, deviceID, action, receivedAt)

		outcome := e.processRecord(ctx, tx, record)

		processed := ProcessedAction{
			RecordID:   record.ID,
			EntityType: record.EntityType.String(),
			EntityID:   record.EntityID,
			Action:     string(record.Action),
		}

		switch outcome.Status {

		case OutcomeApplied:
			record.Status = StatusCompleted
			result.Successful++
			processed.Status = string(StatusCompleted)
			metrics.recordsProcessedCounter.WithLabelValues("completed").Inc()

		case OutcomeConflict:
			record.Status = StatusConflict
			result.Conflicts++
			processed.Status = string(StatusConflict)
			metrics.recordsProcessedCounter.WithLabelValues("conflict").Inc()
			metrics.conflictsDetectedCounter.WithLabelValues(string(outcome.Conflict.Kind)).Inc()

			result.ConflictsDetected = append(result.ConflictsDetected, ConflictDescriptor{
				ConflictID:     outcome.Conflict.ID,
				RecordID:       record.ID,
				EntityType:     record.EntityType.String(),
				EntityID:       record.EntityID,
				ConflictType:   string(outcome.Conflict.Kind),
				ConflictFields: outcome.Conflict.ConflictFields,
			})

		case OutcomeFailed:
			record.Status = StatusFailed
			record.ErrorMessage = outcome.Err.Error()
			result.Failed++
			processed.Status = string(StatusFailed)
			processed.Error = record.ErrorMessage
			result.Errors = append(result.Errors, record.EntityID+": "+record.ErrorMessage)
			metrics.recordsProcessedCounter.WithLabelValues("failed").Inc()
		}

		result.ProcessedActions = append(result.ProcessedActions, processed)

		if err := e.store.SaveSyncRecord(ctx, tx, record); err != nil {
			tx.Rollback() //nolint:errcheck
			log.WithFields(logrus.Fields{"error": err}).Error("Unable to persist a sync record")
			return nil, err
		}

		if outcome.Conflict != nil {
			if err := e.store.SaveConflict(ctx, tx, outcome.Conflict); err != nil {
				tx.Rollback() //nolint:errcheck
				log.WithFields(logrus.Fields{"error": err}).Error("Unable to persist a conflict")
				return nil, err
			}
		}
	}

	// Conflicts count as progress here, the pending conflict rows have to
	// survive for later resolution
	if result.Successful+result.Conflicts > 0 || result.TotalActions == 0 {
		if err := tx.Commit(); err != nil {
			log.WithFields(logrus.Fields{"error": err}).Error("Unable to commit the sync batch")
			return nil, err
		}
	} else {
		tx.Rollback() //nolint:errcheck
	}

	log.WithFields(logrus.Fields{
		"successful": result.Successful,
		"failed":     result.Failed,
		"conflicts":  result.Conflicts}).Info("Processed a sync batch")

	e.announceBatch(ctx, tenantID, userID, deviceID, result)

	if e.auditor != nil {
		e.auditor.RecordBatch(ctx, tenantID, userID, deviceID, result)
	}

	return result, nil
}

func (e *Engine) buildRecord(tenantID domain.TenantID, userID domain.UserID, deviceID domain.DeviceID, action Action, receivedAt time.Time) *SyncRecord {
	return &SyncRecord{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		UserID:          userID,
		DeviceID:        deviceID,
		EntityType:      domain.EntityType(action.EntityType),
		EntityID:        action.EntityID,
		Action:          action.Action,
		Payload:         action.Data,
		ClientTimestamp: action.ClientTimestamp,
		ReceivedAt:      receivedAt,
		Version:         action.Version,
		Status:          StatusProcessing,
	}
}

// processRecord runs conflict detection and applies the mutation when it is
// clean.  Expected business outcomes come back as conflicts, not errors.
func (e *Engine) processRecord(ctx context.Context, tx Tx, record *SyncRecord) Outcome {

	if !record.EntityType.Valid() {
		return Outcome{Status: OutcomeFailed, Err: errors.New("unknown entity type: " + record.EntityType.String())}
	}
	if !record.Action.Valid() {
		return Outcome{Status: OutcomeFailed, Err: errors.New("unknown action: " + string(record.Action))}
	}

	snapshot, err := e.store.GetSnapshot(ctx, tx, record.TenantID, record.EntityType, record.EntityID)
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		return Outcome{Status: OutcomeFailed, Err: err}
	}
	exists := err == nil

	switch record.Action {

	case ActionCreate:
		if exists {
			return Outcome{Status: OutcomeConflict, Conflict: newExistenceConflict(record, ConflictAlreadyExists, snapshot.Data, e.now())}
		}

		err := e.store.InsertSnapshot(ctx, tx, e.snapshotFromRecord(record))
		if errors.Is(err, ErrAlreadyExists) {
			// Lost a race with a concurrent create
			return Outcome{Status: OutcomeConflict, Conflict: newExistenceConflict(record, ConflictAlreadyExists, nil, e.now())}
		}
		if err != nil {
			return Outcome{Status: OutcomeFailed, Err: err}
		}

	case ActionUpdate:
		if !exists {
			return Outcome{Status: OutcomeFailed, Err: errors.New("entity does not exist")}
		}

		conflict, err := detectUpdateConflict(record, snapshot, e.now())
		if err != nil {
			return Outcome{Status: OutcomeFailed, Err: err}
		}
		if conflict != nil {
			return Outcome{Status: OutcomeConflict, Conflict: conflict}
		}

		if err := e.store.UpsertSnapshot(ctx, tx, e.snapshotFromRecord(record)); err != nil {
			return Outcome{Status: OutcomeFailed, Err: err}
		}

	case ActionDelete:
		if !exists {
			// Low severity, the intended effect already holds
			return Outcome{Status: OutcomeConflict, Conflict: newExistenceConflict(record, ConflictAlreadyDeleted, nil, e.now())}
		}

		if err := e.store.DeleteSnapshot(ctx, tx, record.TenantID, record.EntityType, record.EntityID); err != nil {
			return Outcome{Status: OutcomeFailed, Err: err}
		}
	}

	return Outcome{Status: OutcomeApplied}
}

func (e *Engine) snapshotFromRecord(record *SyncRecord) *EntitySnapshot {
	return &EntitySnapshot{
		TenantID:   record.TenantID,
		EntityType: record.EntityType,
		EntityID:   record.EntityID,
		Data:       record.Payload,
		UpdatedAt:  e.now(),
	}
}

// DownloadChanges computes the incremental change set per entity type since
// the client supplied checkpoint.  Without a checkpoint the lookback window
// applies.
func (e *Engine) DownloadChanges(ctx context.Context, tenantID domain.TenantID, checkpoint *time.Time, entityTypes []domain.EntityType) (*DownloadResult, error) {

	since := e.now().Add(-e.defaultLookback)
	if checkpoint != nil {
		since = *checkpoint
	}

	if len(entityTypes) == 0 {
		entityTypes = []domain.EntityType{
			domain.EntityTypeOrder,
			domain.EntityTypeProduct,
			domain.EntityTypePayment,
			domain.EntityTypeInventory,
		}
	}

	result := &DownloadResult{
		SyncTimestamp: e.now(),
		Changes:       make(map[string][]ChangedEntity, len(entityTypes)),
	}

	for _, entityType := range entityTypes {
		if !entityType.Valid() {
			return nil, errors.New("unknown entity type: " + entityType.String())
		}

		snapshots, err := e.store.ListChangedSince(ctx, tenantID, entityType, since)
		if err != nil {
			return nil, err
		}

		changes := make([]ChangedEntity, 0, len(snapshots))
		for _, snapshot := range snapshots {
			changes = append(changes, ChangedEntity{
				EntityID:   snapshot.EntityID,
				EntityType: entityType.String(),
				Action:     string(ActionUpdate),
				Data:       snapshot.Data,
				UpdatedAt:  snapshot.UpdatedAt,
			})
		}

		result.Changes[entityType.String()] = changes
		result.TotalChanges += len(changes)
	}

	metrics.downloadsCounter.Inc()

	return result, nil
}

// ResolveConflict applies one resolution strategy.  Every strategy except
// manual removes the conflict from the pending set, so a second resolution
// attempt reports not found.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, strategy ResolutionStrategy, mergedData []byte) (*Resolution, error) {

	conflict, record, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	log := logger.Log.WithFields(logrus.Fields{
		"conflict_id": conflictID,
		"record_id":   record.ID,
		"strategy":    strategy})

	if strategy == ResolveManual {
		log.Info("Conflict left for manual resolution")
		return &Resolution{ConflictID: conflictID, RecordID: record.ID, Strategy: strategy, Status: StatusConflict}, nil
	}

	if strategy == ResolveMerge && len(mergedData) == 0 {
		return nil, ErrMergePayloadRequired
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	switch strategy {

	case ResolveServerWins:
		// Authoritative data stands, the record just completes

	case ResolveClientWins:
		if err := e.applyResolution(ctx, tx, record, record.Payload); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, err
		}

	case ResolveMerge:
		if err := e.applyResolution(ctx, tx, record, mergedData); err != nil {
			tx.Rollback() //nolint:errcheck
			return nil, err
		}

	default:
		tx.Rollback() //nolint:errcheck
		return nil, ErrUnknownStrategy
	}

	if err := e.store.UpdateSyncRecordStatus(ctx, tx, record.ID, StatusCompleted, ""); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if err := e.store.DeleteConflict(ctx, tx, conflictID); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	metrics.conflictsResolvedCounter.WithLabelValues(string(strategy)).Inc()
	log.Info("Resolved a conflict")

	e.announceResolution(ctx, record, conflict, strategy)

	if e.auditor != nil {
		e.auditor.RecordResolution(ctx, record.TenantID, conflict, record, strategy)
	}

	return &Resolution{ConflictID: conflictID, RecordID: record.ID, Strategy: strategy, Status: StatusCompleted}, nil
}

func (e *Engine) applyResolution(ctx context.Context, tx Tx, record *SyncRecord, payload []byte) error {

	if record.Action == ActionDelete {
		err := e.store.DeleteSnapshot(ctx, tx, record.TenantID, record.EntityType, record.EntityID)
		if errors.Is(err, ErrSnapshotNotFound) {
			return nil
		}
		return err
	}

	return e.store.UpsertSnapshot(ctx, tx, &EntitySnapshot{
		TenantID:   record.TenantID,
		EntityType: record.EntityType,
		EntityID:   record.EntityID,
		Data:       payload,
		UpdatedAt:  e.now(),
	})
}

func (e *Engine) announceBatch(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, deviceID domain.DeviceID, result *BatchResult) {

	envelope, err := protocol.BuildEnvelope(protocol.KindSyncCompleted, tenantID, map[string]interface{}{
		"device_id":     deviceID.String(),
		"total_actions": result.TotalActions,
		"successful":    result.Successful,
		"failed":        result.Failed,
		"conflicts":     result.Conflicts,
	})
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"error": err}).Error("Unable to build the sync_completed event")
		return
	}

	e.broadcaster.SendToUser(ctx, userID, envelope)
}

func (e *Engine) announceResolution(ctx context.Context, record *SyncRecord, conflict *Conflict, strategy ResolutionStrategy) {

	envelope, err := protocol.BuildEnvelope(protocol.KindSyncCompleted, record.TenantID, map[string]interface{}{
		"conflict_id": conflict.ID,
		"entity_type": record.EntityType.String(),
		"entity_id":   record.EntityID,
		"strategy":    string(strategy),
	})
	if err != nil {
		return
	}

	e.broadcaster.SendToUser(ctx, record.UserID, envelope)
}
