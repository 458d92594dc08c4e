// Package note defines free-text notes attached to a session.
package note

import (
	"strings"
	"time"

	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
)

// MaxContentLength bounds note content.
const MaxContentLength = 64 * 1024

// Note is a piece of text written during a session.
type Note struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SyncVersion int64     `json:"-"`
	SyncedAt    time.Time `json:"-"`
}

// Validate checks the note's invariants.
func (n *Note) Validate() error {
	if n.ID == "" {
		return domainErrors.Validation("note ID is required")
	}
	if n.SessionID == "" {
		return domainErrors.Validation("note session ID is required")
	}
	if strings.TrimSpace(n.Content) == "" {
		return domainErrors.Validation("note content is required")
	}
	if len(n.Content) > MaxContentLength {
		return domainErrors.Validation("note content is too long")
	}
	return nil
}

// Summary returns the first line of the note, cut to width runes.
func (n *Note) Summary(width int) string {
	line := strings.TrimSpace(n.Content)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	r := []rune(line)
	if width > 3 && len(r) > width {
		return string(r[:width-3]) + "..."
	}
	return line
}
