package image

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jbctechsolutions/focussync/internal/application/changes"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/image"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/clock"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/testutil"
)

// fakeObjects is an in-memory ObjectStorePort.
type fakeObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   int
	downloads int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) UploadObject(_ context.Context, key string, payload []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	f.objects[key] = append([]byte(nil), payload...)
	return key, nil
}

func (f *fakeObjects) DownloadObject(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	data, ok := f.objects[key]
	if !ok {
		return nil, domainErrors.NewError(domainErrors.CodeNotFound, key, domainErrors.ErrObjectNotFound)
	}
	return data, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key]; !ok {
		return domainErrors.NewError(domainErrors.CodeNotFound, key, domainErrors.ErrObjectNotFound)
	}
	delete(f.objects, key)
	return nil
}

func (f *fakeObjects) HasObject(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}

func setup(t *testing.T) (*Service, *changes.Writer, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(testutil.BaseTime)
	w := changes.NewWriter(testutil.NewTestStore(t))
	if err := w.Repos().Sessions.Create(context.Background(), testutil.NewTestSession("s1", testutil.BaseTime)); err != nil {
		t.Fatalf("Create(session) error = %v", err)
	}
	return NewService(w, clk), w, clk
}

func coalescedFor(t *testing.T, w *changes.Writer, id string) *domainSync.CoalescedChange {
	t.Helper()
	queue, err := w.Repos().Changes.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	for _, c := range domainSync.Coalesce(queue) {
		if c.EntityID == id {
			return c
		}
	}
	t.Fatalf("no queued change for %s", id)
	return nil
}

func TestService_Add(t *testing.T) {
	ctx := context.Background()
	svc, w, _ := setup(t)

	img, err := svc.Add(ctx, AddOptions{SessionID: "s1", Caption: "whiteboard", Data: testutil.PNG})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if img.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want sniffed image/png", img.ContentType)
	}
	if img.SizeBytes != int64(len(testutil.PNG)) {
		t.Errorf("SizeBytes = %d", img.SizeBytes)
	}

	c := coalescedFor(t, w, img.ID)
	var payload map[string]any
	if err := json.Unmarshal(c.Payload, &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if _, ok := payload["data"]; ok {
		t.Error("image data leaked into change payload")
	}
}

func TestService_AddRejects(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	tests := []struct {
		name string
		opts AddOptions
	}{
		{"no data", AddOptions{SessionID: "s1"}},
		{"not an image", AddOptions{SessionID: "s1", Data: []byte("plain text, not a picture")}},
		{"unknown note", AddOptions{SessionID: "s1", NoteID: "missing", Data: testutil.PNG}},
		{"unknown session", AddOptions{SessionID: "missing", Data: testutil.PNG}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Add(ctx, tt.opts); err == nil {
				t.Error("Add() expected error")
			}
		})
	}
}

func TestService_PreparePushUploadsOnce(t *testing.T) {
	ctx := context.Background()
	svc, w, clk := setup(t)
	objects := newFakeObjects()

	img, err := svc.Add(ctx, AddOptions{SessionID: "s1", Data: testutil.PNG})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	payload, err := svc.PreparePush(ctx, coalescedFor(t, w, img.ID), objects)
	if err != nil {
		t.Fatalf("PreparePush() error = %v", err)
	}
	var pushed image.Image
	if err := json.Unmarshal(payload, &pushed); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if pushed.RemoteKey != domainSync.ImageObjectKey(img.ID) {
		t.Errorf("RemoteKey = %q", pushed.RemoteKey)
	}

	clk.Advance(time.Minute)
	if _, err := svc.SetCaption(ctx, img.ID, "later"); err != nil {
		t.Fatalf("SetCaption() error = %v", err)
	}
	if _, err := svc.PreparePush(ctx, coalescedFor(t, w, img.ID), objects); err != nil {
		t.Fatalf("second PreparePush() error = %v", err)
	}
	if objects.uploads != 1 {
		t.Errorf("uploads = %d, want 1", objects.uploads)
	}

	stored, err := svc.Get(ctx, img.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.RemoteKey == "" || len(stored.Data) == 0 {
		t.Errorf("stored image lost key or data: %+v", stored)
	}
}

func TestService_PreparePushReuploadsPurgedObject(t *testing.T) {
	ctx := context.Background()
	svc, w, clk := setup(t)
	objects := newFakeObjects()

	img, err := svc.Add(ctx, AddOptions{SessionID: "s1", Data: testutil.PNG})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := svc.PreparePush(ctx, coalescedFor(t, w, img.ID), objects); err != nil {
		t.Fatalf("PreparePush() error = %v", err)
	}
	w.Repos().Changes.RemoveByIDs(ctx, domainSync.SourceIDs(domainSync.Coalesce(mustQueue(t, w))))

	// another device deleted the image and purged its object
	if err := svc.PurgeRemote(ctx, img.ID, objects); err != nil {
		t.Fatalf("PurgeRemote() error = %v", err)
	}

	clk.Advance(time.Second)
	if _, err := svc.SetCaption(ctx, img.ID, "kept"); err != nil {
		t.Fatalf("SetCaption() error = %v", err)
	}
	if _, err := svc.PreparePush(ctx, coalescedFor(t, w, img.ID), objects); err != nil {
		t.Fatalf("PreparePush() error = %v", err)
	}

	if objects.uploads != 2 {
		t.Errorf("uploads = %d, want 2", objects.uploads)
	}
	data, err := objects.DownloadObject(ctx, domainSync.ImageObjectKey(img.ID))
	if err != nil {
		t.Fatalf("DownloadObject() error = %v", err)
	}
	if !bytes.Equal(data, testutil.PNG) {
		t.Errorf("re-uploaded %d bytes, want %d", len(data), len(testutil.PNG))
	}
}

func mustQueue(t *testing.T, w *changes.Writer) []*domainSync.PendingChange {
	t.Helper()
	queue, err := w.Repos().Changes.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll() error = %v", err)
	}
	return queue
}

func TestService_PreparePushDeletedLocally(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)
	change := &domainSync.CoalescedChange{
		EntityType: domainSync.EntityImage,
		EntityID:   "gone",
		Operation:  domainSync.OpUpdate,
		Payload:    json.RawMessage(`{}`),
	}
	if _, err := svc.PreparePush(ctx, change, newFakeObjects()); !domainErrors.IsNotFound(err) {
		t.Errorf("PreparePush() error = %v, want not found", err)
	}
}

func TestService_ApplyRemoteDownloads(t *testing.T) {
	ctx := context.Background()
	svc, w, _ := setup(t)
	objects := newFakeObjects()

	key, _ := objects.UploadObject(ctx, domainSync.ImageObjectKey("i1"), testutil.PNG)
	remote := testutil.NewTestImage("i1", "s1", testutil.BaseTime)
	remote.RemoteKey = key
	payload, _ := json.Marshal(remote)
	rec := &domainSync.RemoteRecord{
		EntityType: domainSync.EntityImage,
		EntityID:   "i1",
		Payload:    payload,
		ModifiedAt: remote.UpdatedAt,
		DeviceID:   "other-device",
		Version:    1,
	}

	if _, err := svc.ApplyRemote(ctx, rec, objects); err != nil {
		t.Fatalf("ApplyRemote() error = %v", err)
	}
	got, err := svc.Get(ctx, "i1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Data) != len(testutil.PNG) {
		t.Errorf("downloaded %d bytes, want %d", len(got.Data), len(testutil.PNG))
	}

	// a caption-only update reuses the local bytes
	remote.Caption = "renamed"
	remote.UpdatedAt = remote.UpdatedAt.Add(time.Minute)
	payload, _ = json.Marshal(remote)
	rec2 := *rec
	rec2.Payload = payload
	rec2.ModifiedAt = remote.UpdatedAt
	rec2.Version = 2
	if _, err := svc.ApplyRemote(ctx, &rec2, objects); err != nil {
		t.Fatalf("second ApplyRemote() error = %v", err)
	}
	if objects.downloads != 1 {
		t.Errorf("downloads = %d, want 1", objects.downloads)
	}
	got, _ = svc.Get(ctx, "i1")
	if got.Caption != "renamed" || len(got.Data) == 0 {
		t.Errorf("updated image = caption %q, %d bytes", got.Caption, len(got.Data))
	}

	if n, _ := w.Repos().Changes.Count(ctx); n != 0 {
		t.Errorf("sync apply queued %d changes, want 0", n)
	}
}

func TestService_ApplyRemoteMissingObject(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)

	remote := testutil.NewTestImage("i1", "s1", testutil.BaseTime)
	remote.RemoteKey = domainSync.ImageObjectKey("i1")
	payload, _ := json.Marshal(remote)
	rec := &domainSync.RemoteRecord{
		EntityType: domainSync.EntityImage,
		EntityID:   "i1",
		Payload:    payload,
		ModifiedAt: remote.UpdatedAt,
		Version:    1,
	}
	if _, err := svc.ApplyRemote(ctx, rec, newFakeObjects()); !errors.Is(err, domainErrors.ErrObjectNotFound) {
		t.Errorf("ApplyRemote() error = %v, want ErrObjectNotFound", err)
	}
	if _, err := svc.Get(ctx, "i1"); !domainErrors.IsNotFound(err) {
		t.Errorf("image stored without data: %v", err)
	}
}

func TestService_PurgeRemote(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setup(t)
	objects := newFakeObjects()
	objects.UploadObject(ctx, domainSync.ImageObjectKey("i1"), testutil.PNG)

	if err := svc.PurgeRemote(ctx, "i1", objects); err != nil {
		t.Fatalf("PurgeRemote() error = %v", err)
	}
	if err := svc.PurgeRemote(ctx, "i1", objects); err != nil {
		t.Errorf("PurgeRemote() of missing object error = %v, want nil", err)
	}
}
