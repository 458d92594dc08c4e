package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/session"
)

// Compile-time check that SessionRepository implements SessionRepositoryPort.
var _ ports.SessionRepositoryPort = (*SessionRepository)(nil)

const sessionColumns = `id, title, description, started_at, ended_at, planned_duration_ms, created_at, updated_at, sync_version, synced_at`

// SessionRepository implements SessionRepositoryPort using SQLite.
type SessionRepository struct {
	db querier
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists a new session to storage.
func (r *SessionRepository) Create(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		return domainErrors.Validation("session ID is required")
	}

	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, sessionArgs(sess)...)
	if err != nil {
		if isUniqueViolation(err) {
			return domainErrors.NewError(domainErrors.CodeValidation, "session already exists", err)
		}
		return repoError("failed to create session", err)
	}
	return nil
}

// Get retrieves a session by its unique identifier.
func (r *SessionRepository) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	sess, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(domainErrors.ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, repoError("failed to get session", err)
	}
	return sess, nil
}

// GetActive returns the most recently started session that has not ended.
func (r *SessionRepository) GetActive(ctx context.Context) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE ended_at IS NULL ORDER BY started_at DESC LIMIT 1`

	sess, err := scanSession(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // No active session
	}
	if err != nil {
		return nil, repoError("failed to get active session", err)
	}
	return sess, nil
}

// List returns sessions matching the filter criteria.
func (r *SessionRepository) List(ctx context.Context, filter session.Filter) ([]*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	args := []any{}

	if filter.ActiveOnly {
		query += " AND ended_at IS NULL"
	}
	if !filter.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, formatTime(filter.Since))
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, repoError("failed to query sessions", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, repoError("failed to scan session", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, repoError("error iterating sessions", err)
	}
	return sessions, nil
}

// Update persists changes to an existing session's fields. Sync columns are
// left alone.
func (r *SessionRepository) Update(ctx context.Context, sess *session.Session) error {
	query := `
		UPDATE sessions
		SET title = ?, description = ?, started_at = ?, ended_at = ?, planned_duration_ms = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		sess.Title,
		sess.Description,
		formatTime(sess.StartedAt),
		nullableTimePtr(sess.EndedAt),
		sess.PlannedDuration.Milliseconds(),
		formatTime(sess.UpdatedAt),
		sess.ID,
	)
	if err != nil {
		return repoError("failed to update session", err)
	}
	return checkAffected(result, domainErrors.ErrSessionNotFound, sess.ID)
}

// Delete removes a session from storage.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return repoError("failed to delete session", err)
	}
	return checkAffected(result, domainErrors.ErrSessionNotFound, id)
}

// Upsert writes every column, inserting the session if it does not exist.
func (r *SessionRepository) Upsert(ctx context.Context, sess *session.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			planned_duration_ms = excluded.planned_duration_ms,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			sync_version = excluded.sync_version,
			synced_at = excluded.synced_at
	`
	if _, err := r.db.ExecContext(ctx, query, sessionArgs(sess)...); err != nil {
		return repoError("failed to upsert session", err)
	}
	return nil
}

// MarkSynced records the remote version a session was reconciled with.
// A missing row is not an error: it was deleted after the push.
func (r *SessionRepository) MarkSynced(ctx context.Context, id string, version int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET sync_version = ?, synced_at = ? WHERE id = ?`,
		version, formatTime(at), id)
	if err != nil {
		return repoError("failed to mark session synced", err)
	}
	return nil
}

func sessionArgs(sess *session.Session) []any {
	return []any{
		sess.ID,
		sess.Title,
		sess.Description,
		formatTime(sess.StartedAt),
		nullableTimePtr(sess.EndedAt),
		sess.PlannedDuration.Milliseconds(),
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
		sess.SyncVersion,
		nullableTime(sess.SyncedAt),
	}
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess                            session.Session
		startedAt, createdAt, updatedAt string
		endedAt, syncedAt               sql.NullString
		plannedMs                       int64
	)

	err := row.Scan(
		&sess.ID, &sess.Title, &sess.Description, &startedAt, &endedAt,
		&plannedMs, &createdAt, &updatedAt, &sess.SyncVersion, &syncedAt,
	)
	if err != nil {
		return nil, err
	}

	if sess.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t, err := parseTime(endedAt.String)
		if err != nil {
			return nil, err
		}
		sess.EndedAt = &t
	}
	if sess.SyncedAt, err = parseNullTime(syncedAt); err != nil {
		return nil, err
	}
	sess.PlannedDuration = time.Duration(plannedMs) * time.Millisecond

	return &sess, nil
}
