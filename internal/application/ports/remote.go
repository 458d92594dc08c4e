package ports

import (
	"context"
	"time"

	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
)

// ObjectStorePort stores opaque binary objects remotely.
type ObjectStorePort interface {
	// UploadObject stores payload under key and returns the remote ID to
	// download it with.
	UploadObject(ctx context.Context, key string, payload []byte) (string, error)

	// DownloadObject returns the object stored under remoteID.
	DownloadObject(ctx context.Context, remoteID string) ([]byte, error)

	// DeleteObject removes an object. Deleting a missing object succeeds.
	DeleteObject(ctx context.Context, remoteID string) error

	// HasObject reports whether an object is stored under remoteID.
	HasObject(ctx context.Context, remoteID string) (bool, error)
}

// RemoteStorePort is the cloud replica the sync engine pushes to and pulls from.
type RemoteStorePort interface {
	ObjectStorePort

	// Name identifies the store in logs and status output.
	Name() string

	// PutRecord writes a record keyed by its entity. The store assigns the
	// next version and returns the stored record. If the stored record wins
	// under last-writer-wins the write is rejected with a
	// *domainSync.StaleWriteError carrying it.
	PutRecord(ctx context.Context, rec *domainSync.RemoteRecord) (*domainSync.RemoteRecord, error)

	// ListChangedSince returns records whose server time is at or after since.
	ListChangedSince(ctx context.Context, since time.Time) (*domainSync.Delta, error)

	// IsAvailable checks if the store can be reached.
	IsAvailable(ctx context.Context) (bool, error)
}
