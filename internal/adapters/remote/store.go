package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
)

// Compile-time check that Store implements RemoteStorePort.
var _ ports.RemoteStorePort = (*Store)(nil)

// Store is a record store layered on a Bucket.
//
// PutRecord reads the stored record, applies the last-writer-wins guard and
// writes. The read and the write are not atomic across devices: two devices
// racing on the same entity can both be accepted, in which case the later
// blob wins in the bucket and both converge on it during pull.
type Store struct {
	name   string
	bucket Bucket
	logger *slog.Logger

	// mu serializes guarded writes issued through this Store.
	mu sync.Mutex
}

// NewStore creates a record store named name over bucket.
func NewStore(name string, bucket Bucket, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{name: name, bucket: bucket, logger: logger}
}

// Name returns the store's configured name.
func (s *Store) Name() string {
	return s.name
}

// IsAvailable pings the bucket.
func (s *Store) IsAvailable(ctx context.Context) (bool, error) {
	if err := s.bucket.Ping(ctx); err != nil {
		return false, unavailable(s.name, "ping", err)
	}
	return true, nil
}

// PutRecord writes rec unless the stored record wins, in which case it
// returns a *domainSync.StaleWriteError carrying the stored record.
func (s *Store) PutRecord(ctx context.Context, rec *domainSync.RemoteRecord) (*domainSync.RemoteRecord, error) {
	if !rec.EntityType.IsValid() || rec.EntityID == "" {
		return nil, domainErrors.Validation("record needs a valid entity type and ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(rec.EntityType, rec.EntityID)
	stored, err := s.getRecord(ctx, key)
	if err != nil && !errors.Is(err, domainErrors.ErrObjectNotFound) {
		return nil, err
	}

	next := *rec
	next.Version = 1
	if stored != nil {
		if domainSync.RemoteWinsWrite(stored, rec) {
			return nil, &domainSync.StaleWriteError{Current: stored}
		}
		next.Version = stored.Version + 1
	}
	if next.Deleted {
		next.Payload = nil
	}

	body, err := encodeRecord(&next)
	if err != nil {
		return nil, domainErrors.NewError(domainErrors.CodeValidation, "could not encode record", err)
	}
	info, err := s.bucket.Put(ctx, key, body)
	if err != nil {
		return nil, unavailable(s.name, "put record", err)
	}
	next.ServerTime = info.LastModified

	s.logger.Debug("record stored",
		slog.String("store", s.name),
		slog.String("entity", next.Key().String()),
		slog.Int64("version", next.Version),
		slog.Bool("deleted", next.Deleted),
	)
	return &next, nil
}

// ListChangedSince returns every record written at or after since. The
// bound is inclusive because bucket timestamps can be coarse; reapplying an
// already-seen record is a no-op for the caller.
func (s *Store) ListChangedSince(ctx context.Context, since time.Time) (*domainSync.Delta, error) {
	infos, err := s.bucket.List(ctx, recordPrefix)
	if err != nil {
		return nil, unavailable(s.name, "list records", err)
	}

	delta := domainSync.NewDelta()
	delta.Checkpoint = since
	for _, info := range infos {
		if info.LastModified.Before(since) {
			continue
		}
		if _, ok := parseRecordKey(info.Key); !ok {
			continue
		}

		rec, err := s.getRecord(ctx, info.Key)
		if errors.Is(err, domainErrors.ErrObjectNotFound) {
			continue // removed between list and get
		}
		if domainErrors.IsValidation(err) {
			s.logger.Warn("skipping unreadable record",
				slog.String("store", s.name),
				slog.String("key", info.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err != nil {
			return nil, err
		}
		delta.Add(rec)
	}
	return delta, nil
}

func (s *Store) getRecord(ctx context.Context, key string) (*domainSync.RemoteRecord, error) {
	body, info, err := s.bucket.Get(ctx, key)
	if errors.Is(err, domainErrors.ErrObjectNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, unavailable(s.name, "get record", err)
	}
	rec, err := decodeRecord(body)
	if err != nil {
		return nil, domainErrors.WithContext(
			domainErrors.NewError(domainErrors.CodeValidation, "corrupt remote record", err),
			"key", key)
	}
	rec.ServerTime = info.LastModified
	return rec, nil
}

// UploadObject stores payload and returns key as its remote ID.
func (s *Store) UploadObject(ctx context.Context, key string, payload []byte) (string, error) {
	if key == "" {
		return "", domainErrors.Validation("object key is required")
	}
	if _, err := s.bucket.Put(ctx, objectKey(key), payload); err != nil {
		return "", unavailable(s.name, "upload object", err)
	}
	return key, nil
}

// DownloadObject returns the object stored under remoteID.
func (s *Store) DownloadObject(ctx context.Context, remoteID string) ([]byte, error) {
	data, _, err := s.bucket.Get(ctx, objectKey(remoteID))
	if errors.Is(err, domainErrors.ErrObjectNotFound) {
		return nil, domainErrors.WithContext(
			domainErrors.NewError(domainErrors.CodeNotFound, "remote object not found", err),
			"remote_id", remoteID)
	}
	if err != nil {
		return nil, unavailable(s.name, "download object", err)
	}
	return data, nil
}

// DeleteObject removes an object. A missing object is not an error.
func (s *Store) DeleteObject(ctx context.Context, remoteID string) error {
	err := s.bucket.Delete(ctx, objectKey(remoteID))
	if err != nil && !errors.Is(err, domainErrors.ErrObjectNotFound) {
		return unavailable(s.name, "delete object", err)
	}
	return nil
}

// HasObject reports whether remoteID is stored, without downloading it.
func (s *Store) HasObject(ctx context.Context, remoteID string) (bool, error) {
	key := objectKey(remoteID)
	infos, err := s.bucket.List(ctx, key)
	if err != nil {
		return false, unavailable(s.name, "stat object", err)
	}
	for _, info := range infos {
		if info.Key == key {
			return true, nil
		}
	}
	return false, nil
}

// unavailable wraps a transport failure so callers can match both the
// sentinel and the underlying error.
func unavailable(store, op string, err error) error {
	return domainErrors.WithContext(
		domainErrors.NewError(domainErrors.CodeExternalService,
			fmt.Sprintf("remote %s: %s failed", store, op),
			fmt.Errorf("%w: %w", domainErrors.ErrRemoteUnavailable, err)),
		"store", store)
}
