package sync

import (
	"encoding/json"
	"fmt"
	"time"
)

// RemoteRecord is the remote copy of one entity, or its tombstone.
type RemoteRecord struct {
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ModifiedAt time.Time       `json:"modified_at"` // Local mutation time of the winning write
	Deleted    bool            `json:"deleted,omitempty"`
	DeviceID   string          `json:"device_id"`
	Version    int64           `json:"version"` // Assigned by the store, +1 per accepted write

	// ServerTime is when the store accepted the write. It is not serialized;
	// stores derive it from object metadata.
	ServerTime time.Time `json:"-"`
}

// Key identifies the entity the record describes.
func (r *RemoteRecord) Key() EntityKey {
	return EntityKey{Type: r.EntityType, ID: r.EntityID}
}

// StaleWriteError is returned by a store that rejected a write because it
// holds a record that wins under last-writer-wins.
type StaleWriteError struct {
	Current *RemoteRecord
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write for %s: remote modified at %s by %s",
		e.Current.Key(), e.Current.ModifiedAt.Format(time.RFC3339Nano), e.Current.DeviceID)
}

// Tombstone marks an entity deleted remotely.
type Tombstone struct {
	ID        string
	DeletedAt time.Time
	DeviceID  string
	Version   int64
}

// EntityDelta groups the remote changes for one entity kind.
type EntityDelta struct {
	Created []*RemoteRecord
	Updated []*RemoteRecord
	Deleted []Tombstone
}

// Len returns the number of changes in the delta.
func (d *EntityDelta) Len() int {
	return len(d.Created) + len(d.Updated) + len(d.Deleted)
}

// Delta is a batch of changes exchanged with the remote store. Inbound,
// LastLocalChangeTimestamp and SyncVersion are the newest modification time
// and highest version among the records; outbound they are the sending
// device's own metadata.
type Delta struct {
	Entities                 map[EntityType]*EntityDelta
	LastLocalChangeTimestamp time.Time
	SyncVersion              int64
	Checkpoint               time.Time // Highest server time the delta covers
}

// NewDelta returns an empty delta.
func NewDelta() *Delta {
	return &Delta{Entities: make(map[EntityType]*EntityDelta)}
}

// Add files a record under its kind. First-version records are creations.
func (d *Delta) Add(rec *RemoteRecord) {
	op := OpUpdate
	switch {
	case rec.Deleted:
		op = OpDelete
	case rec.Version <= 1:
		op = OpCreate
	}
	d.file(rec, op)
}

func (d *Delta) file(rec *RemoteRecord, op Operation) {
	ed, ok := d.Entities[rec.EntityType]
	if !ok {
		ed = &EntityDelta{}
		d.Entities[rec.EntityType] = ed
	}
	switch op {
	case OpDelete:
		ed.Deleted = append(ed.Deleted, Tombstone{
			ID:        rec.EntityID,
			DeletedAt: rec.ModifiedAt,
			DeviceID:  rec.DeviceID,
			Version:   rec.Version,
		})
	case OpCreate:
		ed.Created = append(ed.Created, rec)
	default:
		ed.Updated = append(ed.Updated, rec)
	}
	if rec.ServerTime.After(d.Checkpoint) {
		d.Checkpoint = rec.ServerTime
	}
	if rec.ModifiedAt.After(d.LastLocalChangeTimestamp) {
		d.LastLocalChangeTimestamp = rec.ModifiedAt
	}
	if rec.Version > d.SyncVersion {
		d.SyncVersion = rec.Version
	}
}

// Contains reports whether the delta holds a change for key.
func (d *Delta) Contains(key EntityKey) bool {
	ed, ok := d.Entities[key.Type]
	if !ok {
		return false
	}
	for _, rec := range ed.Created {
		if rec.EntityID == key.ID {
			return true
		}
	}
	for _, rec := range ed.Updated {
		if rec.EntityID == key.ID {
			return true
		}
	}
	for _, ts := range ed.Deleted {
		if ts.ID == key.ID {
			return true
		}
	}
	return false
}

// Len returns the number of changes across all kinds.
func (d *Delta) Len() int {
	n := 0
	for _, ed := range d.Entities {
		n += ed.Len()
	}
	return n
}

// Records flattens the delta into apply order: parents before children,
// upserts before tombstones within a kind, and children deleted before parents.
func (d *Delta) Records() []*RemoteRecord {
	var upserts, deletes []*RemoteRecord
	types := EntityTypes()
	for _, t := range types {
		ed, ok := d.Entities[t]
		if !ok {
			continue
		}
		upserts = append(upserts, ed.Created...)
		upserts = append(upserts, ed.Updated...)
	}
	for i := len(types) - 1; i >= 0; i-- {
		ed, ok := d.Entities[types[i]]
		if !ok {
			continue
		}
		for _, ts := range ed.Deleted {
			deletes = append(deletes, &RemoteRecord{
				EntityType: types[i],
				EntityID:   ts.ID,
				ModifiedAt: ts.DeletedAt,
				Deleted:    true,
				DeviceID:   ts.DeviceID,
				Version:    ts.Version,
			})
		}
	}
	return append(upserts, deletes...)
}

// OutboundDelta describes coalesced local changes as a delta, for reporting
// and conflict detection. Its metadata is the device's, not the records'.
func OutboundDelta(changes []*CoalescedChange, meta *Metadata) *Delta {
	d := NewDelta()
	for _, c := range changes {
		rec := &RemoteRecord{
			EntityType: c.EntityType,
			EntityID:   c.EntityID,
			Payload:    c.Payload,
			ModifiedAt: c.Timestamp,
			Deleted:    c.Operation == OpDelete,
			DeviceID:   meta.DeviceID,
		}
		d.file(rec, c.Operation)
	}
	d.LastLocalChangeTimestamp = meta.LastLocalChangeTimestamp
	d.SyncVersion = meta.SyncVersion
	return d
}
