package ports

import (
	"context"
	"encoding/json"
	"time"

	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
)

// PendingChangeQueuePort is the durable FIFO of local mutations awaiting push.
type PendingChangeQueuePort interface {
	// Append adds a change at the tail and assigns its Seq.
	Append(ctx context.Context, change *domainSync.PendingChange) error

	// ListAll returns a snapshot of the queue in append order.
	ListAll(ctx context.Context) ([]*domainSync.PendingChange, error)

	// RemoveByIDs deletes the given entries. Unknown IDs are ignored.
	RemoveByIDs(ctx context.Context, ids []string) error

	// IncrementRetry bumps an entry's retry counter.
	IncrementRetry(ctx context.Context, id string) error

	Count(ctx context.Context) (int, error)

	// MaxRetryCount returns the highest retry counter in the queue, 0 if empty.
	MaxRetryCount(ctx context.Context) (int, error)
}

// SyncMetadataPort stores the device's sync checkpoint.
type SyncMetadataPort interface {
	// GetOrCreate returns the metadata row, creating it on first use. A new
	// row takes deviceID, or a generated ID when deviceID is empty.
	GetOrCreate(ctx context.Context, deviceID string) (*domainSync.Metadata, error)

	// MarkLocalChange advances LastLocalChangeTimestamp to at if it is newer.
	MarkLocalChange(ctx context.Context, at time.Time) error

	// AdvanceCheckpoint stores the checkpoint fields after a successful round.
	AdvanceCheckpoint(ctx context.Context, meta *domainSync.Metadata) error
}

// EntitySyncPort is implemented by each entity service so the sync engine
// can publish and apply entities without knowing their shape.
type EntitySyncPort interface {
	EntityType() domainSync.EntityType

	// PreparePush returns the payload to publish for a coalesced create or
	// update, uploading any binary objects first. A not-found error means
	// the entity is gone locally and the change can be skipped.
	PreparePush(ctx context.Context, change *domainSync.CoalescedChange, objects ObjectStorePort) (json.RawMessage, error)

	// ApplyRemote reconciles one remote record with the local row and writes
	// the winner without queuing a change.
	ApplyRemote(ctx context.Context, rec *domainSync.RemoteRecord, objects ObjectStorePort) (domainSync.Decision, error)

	// MarkSynced records that the local row matches remote version.
	MarkSynced(ctx context.Context, id string, version int64, at time.Time) error

	// PurgeRemote removes remote objects owned by a deleted entity.
	PurgeRemote(ctx context.Context, id string, objects ObjectStorePort) error
}

// ChangeNotifier is told when a local mutation has been committed.
type ChangeNotifier interface {
	Request()
}
