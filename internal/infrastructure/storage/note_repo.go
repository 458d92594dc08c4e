package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/note"
)

// Compile-time check that NoteRepository implements NoteRepositoryPort.
var _ ports.NoteRepositoryPort = (*NoteRepository)(nil)

const noteColumns = `id, session_id, content, created_at, updated_at, sync_version, synced_at`

// NoteRepository implements NoteRepositoryPort using SQLite.
type NoteRepository struct {
	db querier
}

// NewNoteRepository creates a new note repository.
func NewNoteRepository(db *sql.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// Create persists a new note.
func (r *NoteRepository) Create(ctx context.Context, n *note.Note) error {
	if n.ID == "" {
		return domainErrors.Validation("note ID is required")
	}

	query := `INSERT INTO notes (` + noteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, noteArgs(n)...); err != nil {
		if isUniqueViolation(err) {
			return domainErrors.NewError(domainErrors.CodeValidation, "note already exists", err)
		}
		return repoError("failed to create note", err)
	}
	return nil
}

// Get retrieves a note by ID.
func (r *NoteRepository) Get(ctx context.Context, id string) (*note.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE id = ?`

	n, err := scanNote(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(domainErrors.ErrNoteNotFound, id)
	}
	if err != nil {
		return nil, repoError("failed to get note", err)
	}
	return n, nil
}

// ListBySession returns a session's notes, oldest first.
func (r *NoteRepository) ListBySession(ctx context.Context, sessionID string) ([]*note.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE session_id = ? ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, repoError("failed to query notes", err)
	}
	defer rows.Close()

	var notes []*note.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, repoError("failed to scan note", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, repoError("error iterating notes", err)
	}
	return notes, nil
}

// Update persists a note's content.
func (r *NoteRepository) Update(ctx context.Context, n *note.Note) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notes SET session_id = ?, content = ?, updated_at = ? WHERE id = ?`,
		n.SessionID, n.Content, formatTime(n.UpdatedAt), n.ID)
	if err != nil {
		return repoError("failed to update note", err)
	}
	return checkAffected(result, domainErrors.ErrNoteNotFound, n.ID)
}

// Delete removes a note.
func (r *NoteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return repoError("failed to delete note", err)
	}
	return checkAffected(result, domainErrors.ErrNoteNotFound, id)
}

// Upsert writes every column, inserting the note if it does not exist.
func (r *NoteRepository) Upsert(ctx context.Context, n *note.Note) error {
	query := `
		INSERT INTO notes (` + noteColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			content = excluded.content,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			sync_version = excluded.sync_version,
			synced_at = excluded.synced_at
	`
	if _, err := r.db.ExecContext(ctx, query, noteArgs(n)...); err != nil {
		return repoError("failed to upsert note", err)
	}
	return nil
}

// MarkSynced records the remote version a note was reconciled with.
func (r *NoteRepository) MarkSynced(ctx context.Context, id string, version int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE notes SET sync_version = ?, synced_at = ? WHERE id = ?`,
		version, formatTime(at), id)
	if err != nil {
		return repoError("failed to mark note synced", err)
	}
	return nil
}

func noteArgs(n *note.Note) []any {
	return []any{
		n.ID,
		n.SessionID,
		n.Content,
		formatTime(n.CreatedAt),
		formatTime(n.UpdatedAt),
		n.SyncVersion,
		nullableTime(n.SyncedAt),
	}
}

func scanNote(row rowScanner) (*note.Note, error) {
	var (
		n                    note.Note
		createdAt, updatedAt string
		syncedAt             sql.NullString
	)
	if err := row.Scan(&n.ID, &n.SessionID, &n.Content, &createdAt, &updatedAt, &n.SyncVersion, &syncedAt); err != nil {
		return nil, err
	}

	var err error
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if n.SyncedAt, err = parseNullTime(syncedAt); err != nil {
		return nil, err
	}
	return &n, nil
}
