package changes

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/testutil"
)

type countingNotifier struct {
	n atomic.Int32
}

func (c *countingNotifier) Request() { c.n.Add(1) }

func newWriter(t *testing.T) (*Writer, *countingNotifier) {
	t.Helper()
	w := NewWriter(testutil.NewTestStore(t))
	n := &countingNotifier{}
	w.SetNotifier(n)
	return w, n
}

func queueLen(t *testing.T, w *Writer) int {
	t.Helper()
	n, err := w.Repos().Changes.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	return n
}

func TestWriter_UserEditQueuesAndNotifies(t *testing.T) {
	ctx := context.Background()
	w, notifier := newWriter(t)
	sess := testutil.NewTestSession("s1", testutil.BaseTime)

	err := w.Write(ctx, OriginUserEdit, func(ctx context.Context, repos ports.Repositories, rec *Recorder) error {
		if err := repos.Sessions.Create(ctx, sess); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntitySession, sess.ID, domainSync.OpCreate, sess.UpdatedAt, sess)
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	changes, err := w.Repos().Changes.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("queue has %d entries, want 1", len(changes))
	}
	c := changes[0]
	if c.EntityType != domainSync.EntitySession || c.EntityID != "s1" || c.Operation != domainSync.OpCreate {
		t.Errorf("queued change = %+v", c)
	}
	var payload map[string]any
	if err := json.Unmarshal(c.Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload["title"] != sess.Title {
		t.Errorf("payload title = %v, want %q", payload["title"], sess.Title)
	}

	meta, err := w.Repos().Metadata.GetOrCreate(ctx, "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if !meta.LastLocalChangeTimestamp.Equal(sess.UpdatedAt) {
		t.Errorf("LastLocalChangeTimestamp = %v, want %v", meta.LastLocalChangeTimestamp, sess.UpdatedAt)
	}

	if got := notifier.n.Load(); got != 1 {
		t.Errorf("notifier called %d times, want 1", got)
	}
}

func TestWriter_SyncApplyNeverQueues(t *testing.T) {
	ctx := context.Background()
	w, notifier := newWriter(t)
	sess := testutil.NewTestSession("s1", testutil.BaseTime)

	err := w.Write(ctx, OriginSyncApply, func(ctx context.Context, repos ports.Repositories, rec *Recorder) error {
		if rec.Origin() != OriginSyncApply {
			t.Errorf("Origin() = %v, want sync_apply", rec.Origin())
		}
		if err := repos.Sessions.Upsert(ctx, sess); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntitySession, sess.ID, domainSync.OpUpdate, sess.UpdatedAt, sess)
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if got := queueLen(t, w); got != 0 {
		t.Errorf("queue has %d entries after sync apply, want 0", got)
	}
	if got := notifier.n.Load(); got != 0 {
		t.Errorf("notifier called %d times, want 0", got)
	}
	if _, err := w.Repos().Sessions.Get(ctx, "s1"); err != nil {
		t.Errorf("applied session missing: %v", err)
	}
}

func TestWriter_RollbackDropsRowAndChange(t *testing.T) {
	ctx := context.Background()
	w, notifier := newWriter(t)
	sess := testutil.NewTestSession("s1", testutil.BaseTime)
	boom := errors.New("boom")

	err := w.Write(ctx, OriginUserEdit, func(ctx context.Context, repos ports.Repositories, rec *Recorder) error {
		if err := repos.Sessions.Create(ctx, sess); err != nil {
			return err
		}
		if err := rec.Record(ctx, domainSync.EntitySession, sess.ID, domainSync.OpCreate, sess.UpdatedAt, sess); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Write() error = %v, want boom", err)
	}

	if _, err := w.Repos().Sessions.Get(ctx, "s1"); !domainErrors.IsNotFound(err) {
		t.Errorf("session survived rollback: %v", err)
	}
	if got := queueLen(t, w); got != 0 {
		t.Errorf("queue has %d entries after rollback, want 0", got)
	}
	if got := notifier.n.Load(); got != 0 {
		t.Errorf("notifier called %d times after rollback, want 0", got)
	}
}

func TestRecorder_DeleteDropsSnapshot(t *testing.T) {
	ctx := context.Background()
	w, _ := newWriter(t)

	err := w.Write(ctx, OriginUserEdit, func(ctx context.Context, _ ports.Repositories, rec *Recorder) error {
		return rec.Record(ctx, domainSync.EntityNote, "n1", domainSync.OpDelete, testutil.BaseTime, map[string]string{"x": "y"})
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	changes, err := w.Repos().Changes.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	if len(changes) != 1 || changes[0].Payload != nil {
		t.Errorf("delete change = %+v, want nil payload", changes)
	}
}

func TestReconcile(t *testing.T) {
	at := testutil.BaseTime
	tests := []struct {
		name         string
		local        domainSync.LocalState
		rec          domainSync.RemoteRecord
		removeErr    error
		wantDecision domainSync.Decision
		wantUpsert   bool
		wantRemove   bool
		wantErr      bool
	}{
		{
			name:         "newer remote upserts",
			local:        StateOf(true, at, 1),
			rec:          domainSync.RemoteRecord{ModifiedAt: at.Add(time.Second), Version: 2},
			wantDecision: domainSync.DecisionApplyRemote,
			wantUpsert:   true,
		},
		{
			name:         "older remote keeps local",
			local:        StateOf(true, at, 1),
			rec:          domainSync.RemoteRecord{ModifiedAt: at.Add(-time.Second), Version: 2},
			wantDecision: domainSync.DecisionKeepLocal,
		},
		{
			name:         "newer tombstone removes",
			local:        StateOf(true, at, 1),
			rec:          domainSync.RemoteRecord{ModifiedAt: at.Add(time.Second), Version: 2, Deleted: true},
			wantDecision: domainSync.DecisionApplyRemote,
			wantRemove:   true,
		},
		{
			name:         "remove of missing row is fine",
			local:        StateOf(true, at, 1),
			rec:          domainSync.RemoteRecord{ModifiedAt: at.Add(time.Second), Version: 2, Deleted: true},
			removeErr:    domainErrors.NewError(domainErrors.CodeNotFound, "gone", nil),
			wantDecision: domainSync.DecisionApplyRemote,
			wantRemove:   true,
		},
		{
			name:         "remove failure surfaces",
			local:        StateOf(true, at, 1),
			rec:          domainSync.RemoteRecord{ModifiedAt: at.Add(time.Second), Version: 2, Deleted: true},
			removeErr:    errors.New("disk full"),
			wantDecision: domainSync.DecisionApplyRemote,
			wantRemove:   true,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var upserted, removed bool
			rec := tt.rec
			rec.EntityType = domainSync.EntityNote
			rec.EntityID = "n1"

			decision, err := Reconcile(&rec,
				func() (domainSync.LocalState, error) { return tt.local, nil },
				func() error { upserted = true; return nil },
				func() error { removed = true; return tt.removeErr },
			)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Reconcile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if decision != tt.wantDecision {
				t.Errorf("decision = %v, want %v", decision, tt.wantDecision)
			}
			if upserted != tt.wantUpsert || removed != tt.wantRemove {
				t.Errorf("upserted=%v removed=%v, want %v %v", upserted, removed, tt.wantUpsert, tt.wantRemove)
			}
		})
	}
}

func TestDecodePayload(t *testing.T) {
	rec := &domainSync.RemoteRecord{EntityType: domainSync.EntityNote, EntityID: "n1"}
	var v struct{ Content string }

	if err := DecodePayload(rec, &v); !domainErrors.IsValidation(err) {
		t.Errorf("empty payload error = %v, want validation", err)
	}

	rec.Payload = json.RawMessage(`{not json`)
	if err := DecodePayload(rec, &v); !domainErrors.IsValidation(err) {
		t.Errorf("malformed payload error = %v, want validation", err)
	}

	rec.Payload = json.RawMessage(`{"Content":"hi"}`)
	if err := DecodePayload(rec, &v); err != nil || v.Content != "hi" {
		t.Errorf("DecodePayload() = %v, content %q", err, v.Content)
	}
}
