// Package ports defines the application layer port interfaces following hexagonal architecture.
// Ports are abstractions that allow the application core to interact with external systems
// (adapters) without knowing their implementation details.
package ports

import (
	"context"
	"time"

	"github.com/jbctechsolutions/focussync/internal/domain/image"
	"github.com/jbctechsolutions/focussync/internal/domain/note"
	"github.com/jbctechsolutions/focussync/internal/domain/session"
)

// SessionRepositoryPort persists sessions.
type SessionRepositoryPort interface {
	// Create inserts a new session. Fails with a validation error if the ID exists.
	Create(ctx context.Context, s *session.Session) error

	// Get returns the session or a not-found error.
	Get(ctx context.Context, id string) (*session.Session, error)

	// GetActive returns the most recently started running session, or nil.
	GetActive(ctx context.Context) (*session.Session, error)

	// List returns sessions matching filter, most recent first.
	List(ctx context.Context, filter session.Filter) ([]*session.Session, error)

	Update(ctx context.Context, s *session.Session) error
	Delete(ctx context.Context, id string) error

	// Upsert writes a session including its sync columns, creating it if missing.
	Upsert(ctx context.Context, s *session.Session) error

	// MarkSynced records the remote version a row was reconciled with.
	MarkSynced(ctx context.Context, id string, version int64, at time.Time) error
}

// NoteRepositoryPort persists notes.
type NoteRepositoryPort interface {
	Create(ctx context.Context, n *note.Note) error
	Get(ctx context.Context, id string) (*note.Note, error)

	// ListBySession returns a session's notes, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]*note.Note, error)

	Update(ctx context.Context, n *note.Note) error
	Delete(ctx context.Context, id string) error
	Upsert(ctx context.Context, n *note.Note) error
	MarkSynced(ctx context.Context, id string, version int64, at time.Time) error
}

// ImageRepositoryPort persists images and their binary data.
type ImageRepositoryPort interface {
	Create(ctx context.Context, img *image.Image) error

	// Get returns the image including its data.
	Get(ctx context.Context, id string) (*image.Image, error)

	// ListBySession returns a session's images without data, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]*image.Image, error)

	Update(ctx context.Context, img *image.Image) error
	Delete(ctx context.Context, id string) error
	Upsert(ctx context.Context, img *image.Image) error
	MarkSynced(ctx context.Context, id string, version int64, at time.Time) error

	// SetRemoteKey records where the image data was uploaded without
	// touching UpdatedAt.
	SetRemoteKey(ctx context.Context, id, remoteKey string) error
}

// Repositories groups the repositories bound to one connection or transaction.
type Repositories struct {
	Sessions SessionRepositoryPort
	Notes    NoteRepositoryPort
	Images   ImageRepositoryPort
	Changes  PendingChangeQueuePort
	Metadata SyncMetadataPort
}

// TransactorPort runs work against the local store.
type TransactorPort interface {
	// InTx runs fn in a single transaction. Returning an error rolls back
	// every write fn made.
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	// Repos returns repositories that run each call on its own.
	Repos() Repositories
}
