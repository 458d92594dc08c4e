// Package storage provides SQLite-based repositories for sessions, notes,
// images and sync state.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
)

// timeLayout is fixed width so stored timestamps compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Compile-time check that Store implements TransactorPort.
var _ ports.TransactorPort = (*Store)(nil)

// Store hands out repositories bound to the database or to a transaction.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Repos returns repositories that run each call on its own.
func (s *Store) Repos() ports.Repositories {
	return reposFor(s.db)
}

// InTx runs fn in one transaction, committing only if fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repos ports.Repositories) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domainErrors.NewError(domainErrors.CodeRepository, "could not begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, reposFor(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domainErrors.NewError(domainErrors.CodeRepository, "could not commit transaction", err)
	}
	return nil
}

func reposFor(q querier) ports.Repositories {
	return ports.Repositories{
		Sessions: &SessionRepository{db: q},
		Notes:    &NoteRepository{db: q},
		Images:   &ImageRepository{db: q},
		Changes:  &PendingChangeRepository{db: q},
		Metadata: &SyncMetadataRepository{db: q},
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullableTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullableTime(*t)
}

func parseNullTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return parseTime(ns.String)
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func repoError(message string, err error) error {
	return domainErrors.NewError(domainErrors.CodeRepository, message, err)
}

func notFound(sentinel error, id string) error {
	return domainErrors.WithContext(
		domainErrors.NewError(domainErrors.CodeNotFound, fmt.Sprintf("%v: %s", sentinel, id), sentinel),
		"id", id)
}

// checkAffected turns a zero-row write into a not-found error.
func checkAffected(result sql.Result, sentinel error, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return repoError("failed to check write result", err)
	}
	if rows == 0 {
		return notFound(sentinel, id)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
