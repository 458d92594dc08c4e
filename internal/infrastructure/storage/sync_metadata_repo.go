package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
)

// Compile-time check that SyncMetadataRepository implements SyncMetadataPort.
var _ ports.SyncMetadataPort = (*SyncMetadataRepository)(nil)

// SyncMetadataRepository stores the single per-device checkpoint row.
type SyncMetadataRepository struct {
	db querier
}

// NewSyncMetadataRepository creates a new metadata repository.
func NewSyncMetadataRepository(db *sql.DB) *SyncMetadataRepository {
	return &SyncMetadataRepository{db: db}
}

// GetOrCreate returns the metadata row, creating it on first use.
func (r *SyncMetadataRepository) GetOrCreate(ctx context.Context, deviceID string) (*domainSync.Metadata, error) {
	meta, err := r.get(ctx)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, repoError("failed to read sync metadata", err)
	}

	if err := r.ensureRow(ctx, deviceID); err != nil {
		return nil, err
	}
	meta, err = r.get(ctx)
	if err != nil {
		return nil, repoError("failed to read sync metadata", err)
	}
	return meta, nil
}

// MarkLocalChange advances the last local change time. Earlier times are ignored.
func (r *SyncMetadataRepository) MarkLocalChange(ctx context.Context, at time.Time) error {
	if err := r.ensureRow(ctx, ""); err != nil {
		return err
	}
	ts := formatTime(at)
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_metadata
		SET last_local_change_at = ?, updated_at = ?
		WHERE id = 1 AND (last_local_change_at IS NULL OR last_local_change_at < ?)`,
		ts, ts, ts)
	if err != nil {
		return repoError("failed to mark local change", err)
	}
	return nil
}

// AdvanceCheckpoint stores the checkpoint fields. The sync version is only
// ever raised, never lowered.
func (r *SyncMetadataRepository) AdvanceCheckpoint(ctx context.Context, meta *domainSync.Metadata) error {
	if err := r.ensureRow(ctx, meta.DeviceID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE sync_metadata
		SET last_sync_at = ?, last_cloud_at = ?, sync_version = MAX(sync_version, ?), updated_at = ?
		WHERE id = 1`,
		nullableTime(meta.LastSyncTimestamp),
		nullableTime(meta.LastCloudTimestamp),
		meta.SyncVersion,
		formatTime(time.Now()),
	)
	if err != nil {
		return repoError("failed to advance sync checkpoint", err)
	}
	return nil
}

func (r *SyncMetadataRepository) ensureRow(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		deviceID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_metadata (id, device_id, sync_version) VALUES (1, ?, 0) ON CONFLICT(id) DO NOTHING`,
		deviceID)
	if err != nil {
		return repoError("failed to create sync metadata", err)
	}
	return nil
}

func (r *SyncMetadataRepository) get(ctx context.Context) (*domainSync.Metadata, error) {
	var (
		meta                           domainSync.Metadata
		lastSync, lastLocal, lastCloud sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT device_id, last_sync_at, last_local_change_at, last_cloud_at, sync_version
		FROM sync_metadata WHERE id = 1`).
		Scan(&meta.DeviceID, &lastSync, &lastLocal, &lastCloud, &meta.SyncVersion)
	if err != nil {
		return nil, err
	}

	if meta.LastSyncTimestamp, err = parseNullTime(lastSync); err != nil {
		return nil, err
	}
	if meta.LastLocalChangeTimestamp, err = parseNullTime(lastLocal); err != nil {
		return nil, err
	}
	if meta.LastCloudTimestamp, err = parseNullTime(lastCloud); err != nil {
		return nil, err
	}
	return &meta, nil
}
