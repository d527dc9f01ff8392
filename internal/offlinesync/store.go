package offlinesync

import (
	"context"
	"time"

	"github.com/orderpulse/realtime-connector/internal/domain"
)

// Tx is the unit of work one batch or one resolution runs in.
type Tx interface {
	Commit() error
	Rollback() error
}

// Store is the authoritative entity storage collaborator contract.  The SQL
// implementation is the production one; tests use an in memory fake.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	// GetSnapshot returns ErrSnapshotNotFound when the entity does not exist.
	GetSnapshot(ctx context.Context, tx Tx, tenantID domain.TenantID, entityType domain.EntityType, entityID string) (*EntitySnapshot, error)

	// InsertSnapshot returns ErrAlreadyExists when the entity id is taken.
	InsertSnapshot(ctx context.Context, tx Tx, snapshot *EntitySnapshot) error

	UpsertSnapshot(ctx context.Context, tx Tx, snapshot *EntitySnapshot) error

	DeleteSnapshot(ctx context.Context, tx Tx, tenantID domain.TenantID, entityType domain.EntityType, entityID string) error

	SaveSyncRecord(ctx context.Context, tx Tx, record *SyncRecord) error

	UpdateSyncRecordStatus(ctx context.Context, tx Tx, recordID string, status RecordStatus, errorMessage string) error

	SaveConflict(ctx context.Context, tx Tx, conflict *Conflict) error

	// GetConflict returns the conflict and its sync record, or
	// ErrConflictNotFound once the conflict has been resolved.
	GetConflict(ctx context.Context, conflictID string) (*Conflict, *SyncRecord, error)

	DeleteConflict(ctx context.Context, tx Tx, conflictID string) error

	ListChangedSince(ctx context.Context, tenantID domain.TenantID, entityType domain.EntityType, since time.Time) ([]EntitySnapshot, error)
}
