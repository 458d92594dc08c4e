package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/image"
)

// Compile-time check that ImageRepository implements ImageRepositoryPort.
var _ ports.ImageRepositoryPort = (*ImageRepository)(nil)

const imageMetaColumns = `id, session_id, note_id, caption, content_type, size_bytes, remote_key, created_at, updated_at, sync_version, synced_at`

// ImageRepository implements ImageRepositoryPort using SQLite. Image data
// lives in the same row as a BLOB.
type ImageRepository struct {
	db querier
}

// NewImageRepository creates a new image repository.
func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Create persists a new image with its data.
func (r *ImageRepository) Create(ctx context.Context, img *image.Image) error {
	if img.ID == "" {
		return domainErrors.Validation("image ID is required")
	}

	query := `INSERT INTO images (` + imageMetaColumns + `, data) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, imageArgs(img)...); err != nil {
		if isUniqueViolation(err) {
			return domainErrors.NewError(domainErrors.CodeValidation, "image already exists", err)
		}
		return repoError("failed to create image", err)
	}
	return nil
}

// Get retrieves an image including its data.
func (r *ImageRepository) Get(ctx context.Context, id string) (*image.Image, error) {
	query := `SELECT ` + imageMetaColumns + `, data FROM images WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	var data []byte
	img, err := scanImage(row, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(domainErrors.ErrImageNotFound, id)
	}
	if err != nil {
		return nil, repoError("failed to get image", err)
	}
	img.Data = data
	return img, nil
}

// ListBySession returns image metadata for a session, oldest first.
func (r *ImageRepository) ListBySession(ctx context.Context, sessionID string) ([]*image.Image, error) {
	query := `SELECT ` + imageMetaColumns + ` FROM images WHERE session_id = ? ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, repoError("failed to query images", err)
	}
	defer rows.Close()

	var images []*image.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, repoError("failed to scan image", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, repoError("error iterating images", err)
	}
	return images, nil
}

// Update persists image metadata. Data is replaced only when img.Data is set.
func (r *ImageRepository) Update(ctx context.Context, img *image.Image) error {
	query := `
		UPDATE images
		SET session_id = ?, note_id = ?, caption = ?, content_type = ?, size_bytes = ?, remote_key = ?, updated_at = ?,
			data = COALESCE(?, data)
		WHERE id = ?
	`
	var data any
	if len(img.Data) > 0 {
		data = img.Data
	}
	result, err := r.db.ExecContext(ctx, query,
		img.SessionID,
		nullableString(img.NoteID),
		img.Caption,
		img.ContentType,
		img.SizeBytes,
		nullableString(img.RemoteKey),
		formatTime(img.UpdatedAt),
		data,
		img.ID,
	)
	if err != nil {
		return repoError("failed to update image", err)
	}
	return checkAffected(result, domainErrors.ErrImageNotFound, img.ID)
}

// Delete removes an image and its data.
func (r *ImageRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM images WHERE id = ?`, id)
	if err != nil {
		return repoError("failed to delete image", err)
	}
	return checkAffected(result, domainErrors.ErrImageNotFound, id)
}

// Upsert writes every column, inserting the image if it does not exist.
// Existing data is kept when img.Data is empty.
func (r *ImageRepository) Upsert(ctx context.Context, img *image.Image) error {
	query := `
		INSERT INTO images (` + imageMetaColumns + `, data) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			note_id = excluded.note_id,
			caption = excluded.caption,
			content_type = excluded.content_type,
			size_bytes = excluded.size_bytes,
			remote_key = excluded.remote_key,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			sync_version = excluded.sync_version,
			synced_at = excluded.synced_at,
			data = COALESCE(excluded.data, images.data)
	`
	if _, err := r.db.ExecContext(ctx, query, imageArgs(img)...); err != nil {
		return repoError("failed to upsert image", err)
	}
	return nil
}

// MarkSynced records the remote version an image was reconciled with.
func (r *ImageRepository) MarkSynced(ctx context.Context, id string, version int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE images SET sync_version = ?, synced_at = ? WHERE id = ?`,
		version, formatTime(at), id)
	if err != nil {
		return repoError("failed to mark image synced", err)
	}
	return nil
}

// SetRemoteKey records the uploaded object's key.
func (r *ImageRepository) SetRemoteKey(ctx context.Context, id, remoteKey string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE images SET remote_key = ? WHERE id = ?`, nullableString(remoteKey), id)
	if err != nil {
		return repoError("failed to set image remote key", err)
	}
	return checkAffected(result, domainErrors.ErrImageNotFound, id)
}

func imageArgs(img *image.Image) []any {
	var data any
	if len(img.Data) > 0 {
		data = img.Data
	}
	return []any{
		img.ID,
		img.SessionID,
		nullableString(img.NoteID),
		img.Caption,
		img.ContentType,
		img.SizeBytes,
		nullableString(img.RemoteKey),
		formatTime(img.CreatedAt),
		formatTime(img.UpdatedAt),
		img.SyncVersion,
		nullableTime(img.SyncedAt),
		data,
	}
}

// scanImage reads the metadata columns plus any extra destinations.
func scanImage(row rowScanner, extra ...any) (*image.Image, error) {
	var (
		img                  image.Image
		noteID, remoteKey    sql.NullString
		createdAt, updatedAt string
		syncedAt             sql.NullString
	)
	dest := []any{
		&img.ID, &img.SessionID, &noteID, &img.Caption, &img.ContentType, &img.SizeBytes,
		&remoteKey, &createdAt, &updatedAt, &img.SyncVersion, &syncedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	img.NoteID = noteID.String
	img.RemoteKey = remoteKey.String

	var err error
	if img.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if img.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if img.SyncedAt, err = parseNullTime(syncedAt); err != nil {
		return nil, err
	}
	return &img, nil
}
