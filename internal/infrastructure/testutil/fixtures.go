// Package testutil provides test fixtures and helpers for testing.
package testutil

import (
	"testing"
	"time"

	"github.com/jbctechsolutions/focussync/internal/adapters/sync/sqlite"
	"github.com/jbctechsolutions/focussync/internal/domain/image"
	"github.com/jbctechsolutions/focussync/internal/domain/note"
	"github.com/jbctechsolutions/focussync/internal/domain/session"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/storage"
)

// BaseTime is a fixed instant tests build timestamps from.
var BaseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// PNG is the smallest valid PNG image: one transparent pixel.
var PNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0a, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

// NewTestStore opens a migrated in-memory store that is closed when the
// test completes.
func NewTestStore(t *testing.T) *storage.Store {
	t.Helper()

	conn, err := sqlite.NewConnection(sqlite.MemoryPath)
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	if err := conn.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	db, err := conn.DB()
	if err != nil {
		t.Fatalf("DB() error = %v", err)
	}
	return storage.NewStore(db)
}

// NewTestSession creates a running session stamped at.
func NewTestSession(id string, at time.Time) *session.Session {
	return &session.Session{
		ID:        id,
		Title:     "Session " + id,
		StartedAt: at,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// NewTestNote creates a note in sessionID stamped at.
func NewTestNote(id, sessionID string, at time.Time) *note.Note {
	return &note.Note{
		ID:        id,
		SessionID: sessionID,
		Content:   "note " + id,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// NewTestImage creates a PNG image in sessionID stamped at.
func NewTestImage(id, sessionID string, at time.Time) *image.Image {
	return &image.Image{
		ID:          id,
		SessionID:   sessionID,
		ContentType: "image/png",
		SizeBytes:   int64(len(PNG)),
		Data:        append([]byte(nil), PNG...),
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}
