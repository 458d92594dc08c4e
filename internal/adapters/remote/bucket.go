// Package remote implements the cloud record store the sync engine talks to.
// Records and binary objects live in a flat blob bucket; any bucket that can
// put, get, delete and list keys can serve as a replica.
package remote

import (
	"context"
	"time"
)

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Key          string
	LastModified time.Time // Assigned by the bucket when the blob was written
	Size         int64
}

// Bucket is a flat key/blob store. Missing keys are reported with an error
// wrapping errors.ErrObjectNotFound from the domain errors package.
type Bucket interface {
	// Put stores data under key, replacing any previous blob.
	Put(ctx context.Context, key string, data []byte) (ObjectInfo, error)

	// Get returns the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, ObjectInfo, error)

	// Delete removes key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// List returns every blob whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Ping checks that the bucket is reachable.
	Ping(ctx context.Context) error
}
