package offlinesync

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/orderpulse/realtime-connector/internal/domain"
)

var (
	ErrSnapshotNotFound     = errors.New("entity snapshot not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrConflictNotFound     = errors.New("conflict not found")
	ErrMergePayloadRequired = errors.New("merge strategy requires a merged payload")
	ErrUnknownStrategy      = errors.New("unknown resolution strategy")
	ErrBatchTooLarge        = errors.New("batch exceeds the maximum action count")
)

type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

func (ak ActionKind) Valid() bool {
	switch ak {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusProcessing RecordStatus = "processing"
	StatusCompleted  RecordStatus = "completed"
	StatusFailed     RecordStatus = "failed"
	StatusConflict   RecordStatus = "conflict"
)

type ConflictKind string

const (
	ConflictTimestamp      ConflictKind = "timestamp_conflict"
	ConflictAlreadyExists  ConflictKind = "already_exists"
	ConflictAlreadyDeleted ConflictKind = "already_deleted"
)

type ResolutionStrategy string

const (
	ResolveServerWins ResolutionStrategy = "server_wins"
	ResolveClientWins ResolutionStrategy = "client_wins"
	ResolveMerge      ResolutionStrategy = "merge"
	ResolveManual     ResolutionStrategy = "manual"
)

// Action is one queued client mutation as it arrives in a batch upload.
type Action struct {
	EntityType      string          `json:"entity_type" validate:"required"`
	EntityID        string          `json:"entity_id" validate:"required"`
	Action          ActionKind      `json:"action" validate:"required"`
	Data            json.RawMessage `json:"data,omitempty"`
	ClientTimestamp time.Time       `json:"client_timestamp" validate:"required"`
	Version         int             `json:"version,omitempty"`
}

// SyncRecord is the persisted form of one action.  Completed and failed are
// terminal, conflict is recoverable through resolution.
type SyncRecord struct {
	ID              string
	TenantID        domain.TenantID
	UserID          domain.UserID
	DeviceID        domain.DeviceID
	EntityType      domain.EntityType
	EntityID        string
	Action          ActionKind
	Payload         json.RawMessage
	ClientTimestamp time.Time
	ReceivedAt      time.Time
	Version         int
	Status          RecordStatus
	ErrorMessage    string
}

// EntitySnapshot is the authoritative state of one entity.
type EntitySnapshot struct {
	TenantID   domain.TenantID
	EntityType domain.EntityType
	EntityID   string
	Data       json.RawMessage
	UpdatedAt  time.Time
}

// Conflict lives in the pending set until resolved.
type Conflict struct {
	ID             string
	SyncRecordID   string
	Kind           ConflictKind
	ConflictFields []string
	ServerSnapshot json.RawMessage
	DetectedAt     time.Time
}

// Outcome is the three way result of processing one record.
type Outcome struct {
	Status   OutcomeStatus
	Conflict *Conflict
	Err      error
}

type OutcomeStatus int

const (
	OutcomeApplied OutcomeStatus = iota
	OutcomeConflict
	OutcomeFailed
)

type ProcessedAction struct {
	RecordID   string `json:"record_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

type ConflictDescriptor struct {
	ConflictID     string   `json:"conflict_id"`
	RecordID       string   `json:"record_id"`
	EntityType     string   `json:"entity_type"`
	EntityID       string   `json:"entity_id"`
	ConflictType   string   `json:"conflict_type"`
	ConflictFields []string `json:"conflict_fields,omitempty"`
}

type BatchResult struct {
	TotalActions      int                  `json:"total_actions"`
	Successful        int                  `json:"successful"`
	Failed            int                  `json:"failed"`
	Conflicts         int                  `json:"conflicts"`
	ProcessedActions  []ProcessedAction    `json:"processed_actions"`
	ConflictsDetected []ConflictDescriptor `json:"conflicts_detected"`
	Errors            []string             `json:"errors"`
}

type ChangedEntity struct {
	EntityID   string          `json:"entity_id"`
	EntityType string          `json:"entity_type"`
	Action     string          `json:"action"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type DownloadResult struct {
	SyncTimestamp time.Time                  `json:"sync_timestamp"`
	Changes       map[string][]ChangedEntity `json:"changes"`
	TotalChanges  int                        `json:"total_changes"`
}

type Resolution struct {
	ConflictID string             `json:"conflict_id"`
	RecordID   string             `json:"record_id"`
	Strategy   ResolutionStrategy `json:"resolution_strategy"`
	Status     RecordStatus       `json:"record_status"`
}
