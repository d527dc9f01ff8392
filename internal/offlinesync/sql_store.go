package offlinesync

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/orderpulse/realtime-connector/internal/config"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/db"
)

type SqlSyncStore struct {
	database *sql.DB
	metrics  *sqlSyncStoreMetrics
}

type sqlSyncStoreMetrics struct {
	sqlSnapshotLookupDuration prometheus.Histogram
	sqlChangeListDuration     prometheus.Histogram
}

func initializeSqlSyncStoreMetrics() *sqlSyncStoreMetrics {
	metrics := new(sqlSyncStoreMetrics)

	metrics.sqlSnapshotLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "realtime_connector_sql_snapshot_lookup_duration",
		Help: "The amount of time it took to look up an entity snapshot",
	})

	metrics.sqlChangeListDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "realtime_connector_sql_change_list_duration",
		Help: "The amount of time it took to list changed entities",
	})

	return metrics
}

func NewSqlSyncStore(cfg *config.Config) (*SqlSyncStore, error) {

	database, err := db.InitializeDatabaseConnection(cfg)
	if err != nil {
		return nil, err
	}

	return &SqlSyncStore{
		database: database,
		metrics:  initializeSqlSyncStoreMetrics(),
	}, nil
}

func (s *SqlSyncStore) Ping(ctx context.Context) error {
	return s.database.PingContext(ctx)
}

type sqlTx struct {
	tx *sql.Tx
}

func (st *sqlTx) Commit() error {
	return st.tx.Commit()
}

func (st *sqlTx) Rollback() error {
	return st.tx.Rollback()
}

func unwrapTx(tx Tx) *sql.Tx {
	return tx.(*sqlTx).tx
}

func (s *SqlSyncStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *SqlSyncStore) GetSnapshot(ctx context.Context, tx Tx, tenantID domain.TenantID, entityType domain.EntityType, entityID string) (*EntitySnapshot, error) {

	callDurationTimer := prometheus.NewTimer(s.metrics.sqlSnapshotLookupDuration)
	defer callDurationTimer.ObserveDuration()

	snapshot := EntitySnapshot{
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
	}

	err := unwrapTx(tx).QueryRowContext(ctx,
		"SELECT data, updated_at FROM entity_snapshots WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3",
		tenantID, entityType, entityID).Scan(&snapshot.Data, &snapshot.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}

	return &snapshot, nil
}

func (s *SqlSyncStore) InsertSnapshot(ctx context.Context, tx Tx, snapshot *EntitySnapshot) error {

	_, err := unwrapTx(tx).ExecContext(ctx,
		"INSERT INTO entity_snapshots (tenant_id, entity_type, entity_id, data, updated_at) VALUES ($1, $2, $3, $4, $5)",
		snapshot.TenantID, snapshot.EntityType, snapshot.EntityID, []byte(snapshot.Data), snapshot.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
		return ErrAlreadyExists
	}

	return err
}

func (s *SqlSyncStore) UpsertSnapshot(ctx context.Context, tx Tx, snapshot *EntitySnapshot) error {

	_, err := unwrapTx(tx).ExecContext(ctx,
		`INSERT INTO entity_snapshots (tenant_id, entity_type, entity_id, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (tenant_id, entity_type, entity_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		snapshot.TenantID, snapshot.EntityType, snapshot.EntityID, []byte(snapshot.Data), snapshot.UpdatedAt)

	return err
}

func (s *SqlSyncStore) DeleteSnapshot(ctx context.Context, tx Tx, tenantID domain.TenantID, entityType domain.EntityType, entityID string) error {

	results, err := unwrapTx(tx).ExecContext(ctx,
		"DELETE FROM entity_snapshots WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3",
		tenantID, entityType, entityID)
	if err != nil {
		return err
	}

	rowsAffected, err := results.RowsAffected()
	if err == nil && rowsAffected == 0 {
		return ErrSnapshotNotFound
	}

	return err
}

func (s *SqlSyncStore) SaveSyncRecord(ctx context.Context, tx Tx, record *SyncRecord) error {

	_, err := unwrapTx(tx).ExecContext(ctx,
		`INSERT INTO sync_records (id, tenant_id, user_id, device_id, entity_type, entity_id, action, payload, client_timestamp, received_at, version, status, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ID, record.TenantID, record.UserID, record.DeviceID, record.EntityType, record.EntityID,
		record.Action, []byte(record.Payload), record.ClientTimestamp, record.ReceivedAt, record.Version,
		record.Status, record.ErrorMessage)

	return err
}

func (s *SqlSyncStore) UpdateSyncRecordStatus(ctx context.Context, tx Tx, recordID string, status RecordStatus, errorMessage string) error {

	_, err := unwrapTx(tx).ExecContext(ctx,
		"UPDATE sync_records SET status = $1, error_message = $2 WHERE id = $3",
		status, errorMessage, recordID)

	return err
}

func (s *SqlSyncStore) SaveConflict(ctx context.Context, tx Tx, conflict *Conflict) error {

	_, err := unwrapTx(tx).ExecContext(ctx,
		`INSERT INTO pending_conflicts (id, sync_record_id, conflict_type, conflict_fields, entity_snapshot, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		conflict.ID, conflict.SyncRecordID, conflict.Kind, pq.Array(conflict.ConflictFields),
		[]byte(conflict.ServerSnapshot), conflict.DetectedAt)

	return err
}

func (s *SqlSyncStore) GetConflict(ctx context.Context, conflictID string) (*Conflict, *SyncRecord, error) {

	conflict := Conflict{ID: conflictID}
	record := SyncRecord{}

	var conflictFields pq.StringArray
	var errorMessage sql.NullString

	err := s.database.QueryRowContext(ctx,
		`SELECT c.sync_record_id, c.conflict_type, c.conflict_fields, c.entity_snapshot, c.detected_at,
		        r.tenant_id, r.user_id, r.device_id, r.entity_type, r.entity_id, r.action, r.payload,
		        r.client_timestamp, r.received_at, r.version, r.status, r.error_message
		 FROM pending_conflicts c JOIN sync_records r ON r.id = c.sync_record_id
		 WHERE c.id = $1`,
		conflictID).Scan(
		&conflict.SyncRecordID, &conflict.Kind, &conflictFields, &conflict.ServerSnapshot, &conflict.DetectedAt,
		&record.TenantID, &record.UserID, &record.DeviceID, &record.EntityType, &record.EntityID,
		&record.Action, &record.Payload, &record.ClientTimestamp, &record.ReceivedAt, &record.Version,
		&record.Status, &errorMessage)

	if err == sql.ErrNoRows {
		return nil, nil, ErrConflictNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	conflict.ConflictFields = conflictFields
	record.ID = conflict.SyncRecordID
	record.ErrorMessage = errorMessage.String

	return &conflict, &record, nil
}

func (s *SqlSyncStore) DeleteConflict(ctx context.Context, tx Tx, conflictID string) error {

	_, err := unwrapTx(tx).ExecContext(ctx,
		"DELETE FROM pending_conflicts WHERE id = $1", conflictID)

	return err
}

func (s *SqlSyncStore) ListChangedSince(ctx context.Context, tenantID domain.TenantID, entityType domain.EntityType, since time.Time) ([]EntitySnapshot, error) {

	callDurationTimer := prometheus.NewTimer(s.metrics.sqlChangeListDuration)
	defer callDurationTimer.ObserveDuration()

	rows, err := s.database.QueryContext(ctx,
		"SELECT entity_id, data, updated_at FROM entity_snapshots WHERE tenant_id = $1 AND entity_type = $2 AND updated_at >= $3 ORDER BY updated_at",
		tenantID, entityType, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []EntitySnapshot
	for rows.Next() {
		snapshot := EntitySnapshot{TenantID: tenantID, EntityType: entityType}
		if err := rows.Scan(&snapshot.EntityID, &snapshot.Data, &snapshot.UpdatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, rows.Err()
}
