package sync

import "time"

// Decision is the outcome of reconciling a remote record with the local row.
type Decision int

const (
	// DecisionSkip leaves the local row alone because it already reflects the record.
	DecisionSkip Decision = iota
	// DecisionApplyRemote overwrites or deletes the local row.
	DecisionApplyRemote
	// DecisionKeepLocal keeps a newer local row.
	DecisionKeepLocal
)

func (d Decision) String() string {
	switch d {
	case DecisionApplyRemote:
		return "apply_remote"
	case DecisionKeepLocal:
		return "keep_local"
	default:
		return "skip"
	}
}

// LocalState is what reconciliation needs to know about a local row.
type LocalState struct {
	Exists      bool
	UpdatedAt   time.Time
	SyncVersion int64
}

// Resolve applies last-writer-wins. A strictly newer remote record wins. On
// equal timestamps the remote wins unless the local row already carries the
// record's version, which makes reapplying a record a no-op. Tombstones for
// rows that do not exist locally are no-ops.
func Resolve(local LocalState, remote *RemoteRecord) Decision {
	if !local.Exists {
		if remote.Deleted {
			return DecisionSkip
		}
		return DecisionApplyRemote
	}
	switch {
	case remote.ModifiedAt.After(local.UpdatedAt):
		return DecisionApplyRemote
	case remote.ModifiedAt.Equal(local.UpdatedAt):
		if local.SyncVersion == remote.Version {
			return DecisionSkip
		}
		return DecisionApplyRemote
	default:
		return DecisionKeepLocal
	}
}

// RemoteWinsWrite reports whether a stored record beats an incoming write.
// Stores use it to reject stale pushes: the stored record wins when it is
// strictly newer, or equally new and written by another device.
func RemoteWinsWrite(stored, incoming *RemoteRecord) bool {
	if stored.ModifiedAt.After(incoming.ModifiedAt) {
		return true
	}
	return stored.ModifiedAt.Equal(incoming.ModifiedAt) && stored.DeviceID != incoming.DeviceID
}
