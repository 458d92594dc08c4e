package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jbctechsolutions/focussync/internal/application/changes"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/session"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/clock"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/testutil"
)

func newTestService(t *testing.T) (*Service, *changes.Writer, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testutil.BaseTime)
	w := changes.NewWriter(testutil.NewTestStore(t))
	return NewService(w, clk), w, clk
}

func queued(t *testing.T, w *changes.Writer) []*domainSync.PendingChange {
	t.Helper()
	list, err := w.Repos().Changes.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	return list
}

func remoteSession(t *testing.T, s *session.Session, version int64) *domainSync.RemoteRecord {
	t.Helper()
	payload, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return &domainSync.RemoteRecord{
		EntityType: domainSync.EntitySession,
		EntityID:   s.ID,
		Payload:    payload,
		ModifiedAt: s.UpdatedAt,
		DeviceID:   "other-device",
		Version:    version,
	}
}

func TestService_Start(t *testing.T) {
	ctx := context.Background()
	svc, w, _ := newTestService(t)

	sess, err := svc.Start(ctx, session.StartOptions{Title: "  Write report ", PlannedDuration: time.Hour})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sess.Title != "Write report" {
		t.Errorf("Title = %q, want trimmed", sess.Title)
	}
	if !sess.StartedAt.Equal(testutil.BaseTime) {
		t.Errorf("StartedAt = %v, want clock time", sess.StartedAt)
	}

	active, err := svc.Active(ctx)
	if err != nil {
		t.Fatalf("Active() error = %v", err)
	}
	if active.ID != sess.ID {
		t.Errorf("Active() = %s, want %s", active.ID, sess.ID)
	}

	list := queued(t, w)
	if len(list) != 1 || list[0].Operation != domainSync.OpCreate || list[0].EntityID != sess.ID {
		t.Errorf("queue = %+v, want one create", list)
	}
}

func TestService_StartGeneratesTitle(t *testing.T) {
	svc, _, _ := newTestService(t)
	sess, err := svc.Start(context.Background(), session.StartOptions{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !session.IsGeneratedTitle(sess.Title) {
		t.Errorf("Title = %q, want generated", sess.Title)
	}
}

func TestService_ActiveWithoutSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Active(context.Background())
	if !errors.Is(err, domainErrors.ErrNoActiveSession) {
		t.Errorf("Active() error = %v, want ErrNoActiveSession", err)
	}
}

func TestService_UpdateAndEnd(t *testing.T) {
	ctx := context.Background()
	svc, w, clk := newTestService(t)

	sess, err := svc.Start(ctx, session.StartOptions{Title: "Draft"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	clk.Advance(10 * time.Minute)
	title := "Final"
	updated, err := svc.Update(ctx, sess.ID, session.UpdateOptions{Title: &title})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "Final" || !updated.UpdatedAt.Equal(clk.Now()) {
		t.Errorf("Update() = %+v", updated)
	}

	clk.Advance(20 * time.Minute)
	ended, err := svc.End(ctx, sess.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.IsActive() {
		t.Error("session still active after End()")
	}
	if _, err := svc.End(ctx, sess.ID); !domainErrors.IsValidation(err) {
		t.Errorf("second End() error = %v, want validation", err)
	}

	ops := []domainSync.Operation{}
	for _, c := range queued(t, w) {
		ops = append(ops, c.Operation)
	}
	want := []domainSync.Operation{domainSync.OpCreate, domainSync.OpUpdate, domainSync.OpUpdate}
	if len(ops) != len(want) {
		t.Fatalf("queued ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("op[%d] = %s, want %s", i, ops[i], want[i])
		}
	}
}

func TestService_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	svc, w, _ := newTestService(t)
	repos := w.Repos()

	sess, err := svc.Start(ctx, session.StartOptions{Title: "Cascade"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	testutil.AssertNoError(t, repos.Notes.Create(ctx, testutil.NewTestNote("n1", sess.ID, testutil.BaseTime)))
	testutil.AssertNoError(t, repos.Images.Create(ctx, testutil.NewTestImage("i1", sess.ID, testutil.BaseTime)))

	if err := svc.Delete(ctx, sess.ID, changes.OriginUserEdit); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := repos.Notes.Get(ctx, "n1"); !domainErrors.IsNotFound(err) {
		t.Errorf("note survived cascade: %v", err)
	}
	if _, err := repos.Images.Get(ctx, "i1"); !domainErrors.IsNotFound(err) {
		t.Errorf("image survived cascade: %v", err)
	}

	deletes := map[domainSync.EntityKey]bool{}
	for _, c := range queued(t, w) {
		if c.Operation == domainSync.OpDelete {
			deletes[c.Key()] = true
		}
	}
	for _, key := range []domainSync.EntityKey{
		{Type: domainSync.EntitySession, ID: sess.ID},
		{Type: domainSync.EntityNote, ID: "n1"},
		{Type: domainSync.EntityImage, ID: "i1"},
	} {
		if !deletes[key] {
			t.Errorf("no delete queued for %s", key)
		}
	}
}

func TestService_DeleteMissing(t *testing.T) {
	svc, w, _ := newTestService(t)
	err := svc.Delete(context.Background(), "nope", changes.OriginUserEdit)
	if !domainErrors.IsNotFound(err) {
		t.Errorf("Delete() error = %v, want not found", err)
	}
	if n := len(queued(t, w)); n != 0 {
		t.Errorf("queue has %d entries, want 0", n)
	}
}

func TestService_ApplyRemote(t *testing.T) {
	ctx := context.Background()
	base := testutil.BaseTime

	t.Run("new record is inserted without queuing", func(t *testing.T) {
		svc, w, _ := newTestService(t)
		rec := remoteSession(t, testutil.NewTestSession("s1", base), 1)

		decision, err := svc.ApplyRemote(ctx, rec, nil)
		if err != nil {
			t.Fatalf("ApplyRemote() error = %v", err)
		}
		if decision != domainSync.DecisionApplyRemote {
			t.Errorf("decision = %v, want apply_remote", decision)
		}
		got, err := svc.Get(ctx, "s1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.SyncVersion != 1 || got.Title != "Session s1" {
			t.Errorf("applied session = %+v", got)
		}
		if n := len(queued(t, w)); n != 0 {
			t.Errorf("apply queued %d changes, want 0", n)
		}
	})

	t.Run("reapplying is a no-op", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		rec := remoteSession(t, testutil.NewTestSession("s1", base), 3)
		if _, err := svc.ApplyRemote(ctx, rec, nil); err != nil {
			t.Fatalf("first ApplyRemote() error = %v", err)
		}
		decision, err := svc.ApplyRemote(ctx, rec, nil)
		if err != nil {
			t.Fatalf("second ApplyRemote() error = %v", err)
		}
		if decision != domainSync.DecisionSkip {
			t.Errorf("decision = %v, want skip", decision)
		}
	})

	t.Run("older record keeps local edit", func(t *testing.T) {
		svc, _, clk := newTestService(t)
		local, err := svc.Start(ctx, session.StartOptions{Title: "Local"})
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		clk.Advance(time.Minute)
		title := "Local edit"
		if _, err := svc.Update(ctx, local.ID, session.UpdateOptions{Title: &title}); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		stale := *local
		stale.Title = "Remote"
		decision, err := svc.ApplyRemote(ctx, remoteSession(t, &stale, 2), nil)
		if err != nil {
			t.Fatalf("ApplyRemote() error = %v", err)
		}
		if decision != domainSync.DecisionKeepLocal {
			t.Errorf("decision = %v, want keep_local", decision)
		}
		got, _ := svc.Get(ctx, local.ID)
		if got.Title != "Local edit" {
			t.Errorf("Title = %q, want local edit kept", got.Title)
		}
	})

	t.Run("newer tombstone deletes only the session", func(t *testing.T) {
		svc, w, _ := newTestService(t)
		repos := w.Repos()
		testutil.AssertNoError(t, repos.Sessions.Create(ctx, testutil.NewTestSession("s1", base)))
		testutil.AssertNoError(t, repos.Notes.Create(ctx, testutil.NewTestNote("n1", "s1", base)))

		rec := &domainSync.RemoteRecord{
			EntityType: domainSync.EntitySession,
			EntityID:   "s1",
			ModifiedAt: base.Add(time.Minute),
			Deleted:    true,
			DeviceID:   "other-device",
			Version:    2,
		}
		if _, err := svc.ApplyRemote(ctx, rec, nil); err != nil {
			t.Fatalf("ApplyRemote() error = %v", err)
		}
		if _, err := svc.Get(ctx, "s1"); !domainErrors.IsNotFound(err) {
			t.Errorf("session survived tombstone: %v", err)
		}
		if _, err := repos.Notes.Get(ctx, "n1"); err != nil {
			t.Errorf("note removed by sync delete: %v", err)
		}
		if n := len(queued(t, w)); n != 0 {
			t.Errorf("tombstone queued %d changes, want 0", n)
		}
	})

	t.Run("malformed payload is a validation error", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		rec := &domainSync.RemoteRecord{
			EntityType: domainSync.EntitySession,
			EntityID:   "s1",
			Payload:    json.RawMessage(`[1,2]`),
			ModifiedAt: base,
			Version:    1,
		}
		if _, err := svc.ApplyRemote(ctx, rec, nil); !domainErrors.IsValidation(err) {
			t.Errorf("ApplyRemote() error = %v, want validation", err)
		}
	})
}

func TestService_MarkSynced(t *testing.T) {
	ctx := context.Background()
	svc, _, clk := newTestService(t)
	sess, err := svc.Start(ctx, session.StartOptions{Title: "Sync me"})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := svc.MarkSynced(ctx, sess.ID, 4, clk.Now()); err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	got, _ := svc.Get(ctx, sess.ID)
	if got.SyncVersion != 4 {
		t.Errorf("SyncVersion = %d, want 4", got.SyncVersion)
	}
}
