// Package memory provides an in-process bucket. Several stores can share one
// Bucket to simulate devices syncing through the same cloud replica.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jbctechsolutions/focussync/internal/adapters/remote"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/clock"
)

var _ remote.Bucket = (*Bucket)(nil)

type object struct {
	data []byte
	info remote.ObjectInfo
}

// Bucket stores blobs in a map. Write times come from the injected clock.
type Bucket struct {
	clock clock.Clock

	mu      sync.RWMutex
	objects map[string]object
	offline bool
	puts    int
}

// NewBucket creates an empty bucket.
func NewBucket(clk clock.Clock) *Bucket {
	if clk == nil {
		clk = clock.New()
	}
	return &Bucket{clock: clk, objects: make(map[string]object)}
}

// SetOffline makes every operation fail until it is called with false.
func (b *Bucket) SetOffline(offline bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline = offline
}

// Puts returns how many writes the bucket has accepted.
func (b *Bucket) Puts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.puts
}

// Len returns the number of stored blobs.
func (b *Bucket) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

func (b *Bucket) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.offline {
		return fmt.Errorf("memory bucket is offline")
	}
	return nil
}

// Put stores a copy of data.
func (b *Bucket) Put(ctx context.Context, key string, data []byte) (remote.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(ctx); err != nil {
		return remote.ObjectInfo{}, err
	}

	info := remote.ObjectInfo{Key: key, LastModified: b.clock.Now(), Size: int64(len(data))}
	b.objects[key] = object{data: append([]byte(nil), data...), info: info}
	b.puts++
	return info, nil
}

// Get returns a copy of the blob under key.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, remote.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(ctx); err != nil {
		return nil, remote.ObjectInfo{}, err
	}

	obj, ok := b.objects[key]
	if !ok {
		return nil, remote.ObjectInfo{}, fmt.Errorf("%w: %s", domainErrors.ErrObjectNotFound, key)
	}
	return append([]byte(nil), obj.data...), obj.info, nil
}

// Delete removes key.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(ctx); err != nil {
		return err
	}
	delete(b.objects, key)
	return nil
}

// List returns blobs under prefix sorted by key.
func (b *Bucket) List(ctx context.Context, prefix string) ([]remote.ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.check(ctx); err != nil {
		return nil, err
	}

	var infos []remote.ObjectInfo
	for key, obj := range b.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, obj.info)
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// Ping fails while the bucket is offline.
func (b *Bucket) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.check(ctx)
}
