// Package image defines captured images attached to a session.
package image

import (
	"net/http"
	"strings"
	"time"

	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
)

// MaxSizeBytes bounds a single image.
const MaxSizeBytes = 20 << 20

// Image is a captured picture, optionally tied to a note.
type Image struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	NoteID      string    `json:"note_id,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	RemoteKey   string    `json:"remote_key,omitempty"` // Remote object holding Data, set after upload
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Data is stored locally and in the remote object store, never inside
	// a change payload.
	Data []byte `json:"-"`

	SyncVersion int64     `json:"-"`
	SyncedAt    time.Time `json:"-"`
}

// Validate checks the image's invariants.
func (i *Image) Validate() error {
	if i.ID == "" {
		return domainErrors.Validation("image ID is required")
	}
	if i.SessionID == "" {
		return domainErrors.Validation("image session ID is required")
	}
	if len(i.Data) == 0 {
		return domainErrors.Validation("image data is required")
	}
	if len(i.Data) > MaxSizeBytes {
		return domainErrors.Validation("image exceeds maximum size")
	}
	if !strings.HasPrefix(i.ContentType, "image/") {
		return domainErrors.Validation("unsupported content type: " + i.ContentType)
	}
	return nil
}

// DetectContentType sniffs the MIME type of data.
func DetectContentType(data []byte) string {
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// IsImageFile reports whether a file name has a supported image extension.
func IsImageFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
