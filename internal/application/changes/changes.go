// Package changes records local mutations for replication. Every service
// write goes through a Writer so the entity row, its queued change and the
// local-change timestamp commit together.
package changes

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
)

// Origin tags who caused a write.
type Origin int

const (
	// OriginUserEdit is a local user action. It is queued for push.
	OriginUserEdit Origin = iota
	// OriginSyncApply is a write made while applying remote state. It is
	// never queued, which keeps pulled changes from echoing back.
	OriginSyncApply
)

func (o Origin) String() string {
	if o == OriginSyncApply {
		return "sync_apply"
	}
	return "user_edit"
}

// Recorder queues changes inside a Writer transaction.
type Recorder struct {
	origin   Origin
	repos    ports.Repositories
	recorded int
}

// Record queues a change for an entity. snapshot is marshaled to JSON and
// ignored for deletes. Writes with OriginSyncApply record nothing.
func (r *Recorder) Record(ctx context.Context, entityType domainSync.EntityType, entityID string, op domainSync.Operation, at time.Time, snapshot any) error {
	if r.origin == OriginSyncApply {
		return nil
	}

	var payload json.RawMessage
	if op != domainSync.OpDelete {
		data, err := json.Marshal(snapshot)
		if err != nil {
			return domainErrors.NewError(domainErrors.CodeValidation, "could not encode change payload", err)
		}
		payload = data
	}

	change := domainSync.NewPendingChange(entityType, entityID, op, at, payload)
	if err := r.repos.Changes.Append(ctx, change); err != nil {
		return err
	}
	if err := r.repos.Metadata.MarkLocalChange(ctx, at); err != nil {
		return err
	}
	r.recorded++
	return nil
}

// Origin returns the origin writes in this transaction carry.
func (r *Recorder) Origin() Origin {
	return r.origin
}

// Writer runs service writes in a transaction and notifies the sync trigger
// after user edits commit.
type Writer struct {
	tx ports.TransactorPort

	mu       sync.RWMutex
	notifier ports.ChangeNotifier
}

// NewWriter creates a writer over a transactor.
func NewWriter(tx ports.TransactorPort) *Writer {
	return &Writer{tx: tx}
}

// SetNotifier sets who is told about committed user edits.
func (w *Writer) SetNotifier(n ports.ChangeNotifier) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notifier = n
}

// Repos returns non-transactional repositories for reads.
func (w *Writer) Repos() ports.Repositories {
	return w.tx.Repos()
}

// Write runs fn in one transaction. If fn recorded any change, the notifier
// is told once the transaction commits.
func (w *Writer) Write(ctx context.Context, origin Origin, fn func(ctx context.Context, repos ports.Repositories, rec *Recorder) error) error {
	var rec *Recorder
	err := w.tx.InTx(ctx, func(ctx context.Context, repos ports.Repositories) error {
		rec = &Recorder{origin: origin, repos: repos}
		return fn(ctx, repos, rec)
	})
	if err != nil {
		return err
	}

	if rec.recorded > 0 {
		w.mu.RLock()
		n := w.notifier
		w.mu.RUnlock()
		if n != nil {
			n.Request()
		}
	}
	return nil
}

// Reconcile applies last-writer-wins for one remote record. load reads the
// local row state, upsert writes the remote version and remove deletes the
// local row. Both writers run only when the remote record wins.
func Reconcile(rec *domainSync.RemoteRecord, load func() (domainSync.LocalState, error), upsert, remove func() error) (domainSync.Decision, error) {
	local, err := load()
	if err != nil {
		return domainSync.DecisionSkip, err
	}

	decision := domainSync.Resolve(local, rec)
	if decision != domainSync.DecisionApplyRemote {
		return decision, nil
	}

	if rec.Deleted {
		if err := remove(); err != nil && !domainErrors.IsNotFound(err) {
			return decision, err
		}
		return decision, nil
	}
	return decision, upsert()
}

// DecodePayload unmarshals a remote payload into v.
func DecodePayload(rec *domainSync.RemoteRecord, v any) error {
	if len(rec.Payload) == 0 {
		return domainErrors.WithContext(domainErrors.Validation("remote record has no payload"), "entity", rec.Key().String())
	}
	if err := json.Unmarshal(rec.Payload, v); err != nil {
		return domainErrors.WithContext(
			domainErrors.NewError(domainErrors.CodeValidation, "malformed remote payload", err),
			"entity", rec.Key().String())
	}
	return nil
}

// StateOf builds the reconciliation view of a local row.
func StateOf(exists bool, updatedAt time.Time, syncVersion int64) domainSync.LocalState {
	return domainSync.LocalState{Exists: exists, UpdatedAt: updatedAt, SyncVersion: syncVersion}
}
