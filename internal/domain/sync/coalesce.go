package sync

import (
	"encoding/json"
	"time"
)

// CoalescedChange is the net effect of one or more queued changes to a single entity.
type CoalescedChange struct {
	EntityType EntityType
	EntityID   string
	Operation  Operation
	Payload    json.RawMessage // Latest snapshot, nil for deletes
	Timestamp  time.Time       // Timestamp of the latest folded change
	SourceIDs  []string        // Queue entries folded into this change
	MaxRetry   int             // Highest retry count among the sources
}

// Key identifies the entity the change targets.
func (c *CoalescedChange) Key() EntityKey {
	return EntityKey{Type: c.EntityType, ID: c.EntityID}
}

// Coalesce folds the queue into one change per entity, ordered by each
// entity's first appearance. The fold follows three rules: a create followed
// by updates is a create carrying the latest payload; anything followed by a
// delete is a delete; consecutive updates collapse to the latest update.
func Coalesce(changes []*PendingChange) []*CoalescedChange {
	index := make(map[EntityKey]*CoalescedChange, len(changes))
	out := make([]*CoalescedChange, 0, len(changes))

	for _, ch := range changes {
		key := ch.Key()
		cur, ok := index[key]
		if !ok {
			cur = &CoalescedChange{
				EntityType: ch.EntityType,
				EntityID:   ch.EntityID,
				Operation:  ch.Operation,
				Payload:    ch.Payload,
				Timestamp:  ch.Timestamp,
			}
			index[key] = cur
			out = append(out, cur)
		} else {
			cur.Operation = fold(cur.Operation, ch.Operation)
			if ch.Operation == OpDelete {
				cur.Payload = nil
			} else {
				cur.Payload = ch.Payload
			}
			if ch.Timestamp.After(cur.Timestamp) {
				cur.Timestamp = ch.Timestamp
			}
		}
		cur.SourceIDs = append(cur.SourceIDs, ch.ID)
		if ch.RetryCount > cur.MaxRetry {
			cur.MaxRetry = ch.RetryCount
		}
	}
	return out
}

func fold(prev, next Operation) Operation {
	switch next {
	case OpDelete, OpCreate:
		return next
	}
	// next is an update
	if prev == OpCreate {
		return OpCreate
	}
	return OpUpdate
}

// SourceIDs returns every queue entry folded into changes.
func SourceIDs(changes []*CoalescedChange) []string {
	var ids []string
	for _, c := range changes {
		ids = append(ids, c.SourceIDs...)
	}
	return ids
}
