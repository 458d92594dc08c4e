// Package sync defines the domain model for replicating local edits to a
// remote store: queued changes, device checkpoints, remote records and the
// rules that coalesce and reconcile them.
package sync

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
)

// EntityType identifies a replicated entity kind.
type EntityType string

const (
	EntitySession EntityType = "session"
	EntityNote    EntityType = "note"
	EntityImage   EntityType = "image"
)

// EntityTypes returns all replicated kinds, parents before children.
func EntityTypes() []EntityType {
	return []EntityType{EntitySession, EntityNote, EntityImage}
}

// IsValid reports whether t is a known entity kind.
func (t EntityType) IsValid() bool {
	switch t {
	case EntitySession, EntityNote, EntityImage:
		return true
	}
	return false
}

// Operation is the kind of mutation a change records.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// IsValid reports whether op is a known operation.
func (op Operation) IsValid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// PendingChange is one queued local mutation awaiting push.
type PendingChange struct {
	ID         string          // Unique change identifier
	Seq        int64           // Queue position, assigned on append
	EntityType EntityType      // Kind of the mutated entity
	EntityID   string          // ID of the mutated entity
	Operation  Operation       // create, update or delete
	Timestamp  time.Time       // When the mutation happened locally
	Payload    json.RawMessage // Serialized entity snapshot, nil for deletes
	RetryCount int             // Failed push attempts so far
}

// NewPendingChange builds a change with a fresh ID.
func NewPendingChange(entityType EntityType, entityID string, op Operation, ts time.Time, payload json.RawMessage) *PendingChange {
	if op == OpDelete {
		payload = nil
	}
	return &PendingChange{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Timestamp:  ts.UTC(),
		Payload:    payload,
	}
}

// Validate checks the change is well formed before it is queued.
func (c *PendingChange) Validate() error {
	if c.ID == "" {
		return domainErrors.Validation("change ID is required")
	}
	if !c.EntityType.IsValid() {
		return domainErrors.Validation("unknown entity type: " + string(c.EntityType))
	}
	if c.EntityID == "" {
		return domainErrors.Validation("change entity ID is required")
	}
	if !c.Operation.IsValid() {
		return domainErrors.Validation("unknown operation: " + string(c.Operation))
	}
	if c.Operation != OpDelete && len(c.Payload) == 0 {
		return domainErrors.Validation("payload is required for " + string(c.Operation))
	}
	if c.Timestamp.IsZero() {
		return domainErrors.Validation("change timestamp is required")
	}
	return nil
}

// Key identifies the entity a change targets.
func (c *PendingChange) Key() EntityKey {
	return EntityKey{Type: c.EntityType, ID: c.EntityID}
}

// EntityKey identifies one entity across kinds.
type EntityKey struct {
	Type EntityType
	ID   string
}

// String renders the key as type/id.
func (k EntityKey) String() string {
	return string(k.Type) + "/" + k.ID
}

// Metadata is the per-device sync checkpoint.
type Metadata struct {
	DeviceID                 string
	LastSyncTimestamp        time.Time // End of the last successful round
	LastLocalChangeTimestamp time.Time // Most recent user mutation
	LastCloudTimestamp       time.Time // Remote checkpoint covered by the last pull
	SyncVersion              int64     // Completed rounds, never decreases
}

// HasUnsyncedChanges reports whether a user mutation happened after the last round.
func (m *Metadata) HasUnsyncedChanges() bool {
	return m.LastLocalChangeTimestamp.After(m.LastSyncTimestamp)
}

// Advance returns the metadata after a successful round finished at now
// having pulled up to checkpoint. The cloud checkpoint never moves backwards.
func (m *Metadata) Advance(now, checkpoint time.Time) *Metadata {
	next := *m
	next.LastSyncTimestamp = now.UTC()
	if checkpoint.After(next.LastCloudTimestamp) {
		next.LastCloudTimestamp = checkpoint.UTC()
	}
	next.SyncVersion++
	return &next
}

// ImageObjectKey is the remote object key holding an image's binary data.
func ImageObjectKey(imageID string) string {
	return "images/" + imageID
}
