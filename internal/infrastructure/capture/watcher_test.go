package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestIsImageFile(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"shot.png", true},
		{"/inbox/Photo.JPG", true},
		{"a.jpeg", true},
		{"anim.gif", true},
		{"pic.webp", true},
		{"notes.txt", false},
		{".shot.png", false},
		{"shot.png.part", false},
		{"noext", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := IsImageFile(tt.path); got != tt.want {
				t.Errorf("IsImageFile(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestConvertOp(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want EventType
	}{
		{fsnotify.Create, EventCreate},
		{fsnotify.Write, EventWrite},
		{fsnotify.Create | fsnotify.Write, EventCreate},
		{fsnotify.Remove, EventRemove},
		{fsnotify.Rename, EventRename},
		{fsnotify.Chmod, ""},
	}
	for _, tt := range tests {
		if got := convertOp(tt.op); got != tt.want {
			t.Errorf("convertOp(%v) = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestWatcher_EmitSettled(t *testing.T) {
	w, err := NewWatcher(WatcherConfig{SettleDuration: time.Second, BufferSize: 4})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	now := time.Now()
	w.pending["/inbox/old.png"] = Event{Path: "/inbox/old.png", Type: EventCreate, Timestamp: now.Add(-2 * time.Second)}
	w.pending["/inbox/new.png"] = Event{Path: "/inbox/new.png", Type: EventWrite, Timestamp: now}

	w.emitSettled(now)

	select {
	case ev := <-w.Events():
		if ev.Path != "/inbox/old.png" {
			t.Errorf("settled event = %q, want old.png", ev.Path)
		}
	default:
		t.Fatal("expected a settled event")
	}
	if _, ok := w.pending["/inbox/new.png"]; !ok {
		t.Error("unsettled event was emitted")
	}
}

func TestWatcher_DetectsNewImage(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher(WatcherConfig{SettleDuration: 50 * time.Millisecond, BufferSize: 8})
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := w.Watch(dir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "shot.png")
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Errorf("event path = %q, want %q", ev.Path, path)
		}
		if ev.Type != EventCreate {
			t.Errorf("event type = %q, want create", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestWatcher_MissingDirectorySkipped(t *testing.T) {
	w, err := NewWatcher(DefaultWatcherConfig())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer w.Close()

	if err := w.Watch(filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Errorf("Watch() error = %v, want nil for missing dir", err)
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	w, err := NewWatcher(DefaultWatcherConfig())
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	if err := w.Watch(t.TempDir()); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, ok := <-w.Events(); ok {
		t.Error("events channel still open after Close")
	}
}
