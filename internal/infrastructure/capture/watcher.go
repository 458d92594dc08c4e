// Package capture watches an inbox directory for image files.
package capture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jbctechsolutions/focussync/internal/domain/image"
)

// EventType represents the type of file system event.
type EventType string

// Event types.
const (
	EventCreate EventType = "create"
	EventWrite  EventType = "write"
	EventRemove EventType = "remove"
	EventRename EventType = "rename"
)

// Event is an inbox file that has stopped changing.
type Event struct {
	Path      string
	Type      EventType
	Timestamp time.Time
}

// WatcherConfig holds configuration for the inbox watcher.
type WatcherConfig struct {
	// SettleDuration is how long a file must go without events before it
	// is reported. Screenshot tools often write in several chunks.
	SettleDuration time.Duration
	BufferSize     int
}

// DefaultWatcherConfig returns the default watcher configuration.
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		SettleDuration: 250 * time.Millisecond,
		BufferSize:     64,
	}
}

// IsImageFile reports whether path is an image the inbox accepts. Hidden
// files are ignored since capture tools use them as temp files.
func IsImageFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return image.IsImageFile(base)
}

// Watcher reports image files created or written in watched directories,
// once each file has settled.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	config    WatcherConfig
	events    chan Event
	errors    chan error

	pending   map[string]Event
	pendingMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	closed  bool
}

// NewWatcher creates a watcher. Call Watch to start it.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	defaults := DefaultWatcherConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.SettleDuration <= 0 {
		cfg.SettleDuration = defaults.SettleDuration
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		fsWatcher: fsWatcher,
		config:    cfg,
		events:    make(chan Event, cfg.BufferSize),
		errors:    make(chan error, cfg.BufferSize),
		pending:   make(map[string]Event),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Watch adds dirs and starts event processing. Missing directories are
// skipped. Calling Watch again only adds directories.
func (w *Watcher) Watch(dirs ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := w.fsWatcher.Add(dir); err != nil {
			return err
		}
	}

	if !w.started {
		w.started = true
		w.wg.Add(2)
		go w.processEvents()
		go w.settleLoop()
	}
	return nil
}

// Events returns the channel of settled events.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and closes its channels.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	err := w.fsWatcher.Close()
	w.wg.Wait()

	close(w.events)
	close(w.errors)
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if !IsImageFile(ev.Name) {
				continue
			}
			eventType := convertOp(ev.Op)
			if eventType == "" {
				continue
			}

			w.pendingMu.Lock()
			// a write after create is still a new file
			if prev, ok := w.pending[ev.Name]; ok && prev.Type == EventCreate && eventType == EventWrite {
				eventType = EventCreate
			}
			w.pending[ev.Name] = Event{Path: ev.Name, Type: eventType, Timestamp: time.Now()}
			w.pendingMu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SettleDuration / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.emitSettled(time.Now())
		}
	}
}

// emitSettled sends events that have been quiet for SettleDuration.
func (w *Watcher) emitSettled(now time.Time) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	for path, ev := range w.pending {
		if now.Sub(ev.Timestamp) < w.config.SettleDuration {
			continue
		}
		delete(w.pending, path)
		select {
		case w.events <- ev:
		default:
			// dropped; the importer rescans the inbox on start
		}
	}
}

func convertOp(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreate
	case op.Has(fsnotify.Write):
		return EventWrite
	case op.Has(fsnotify.Remove):
		return EventRemove
	case op.Has(fsnotify.Rename):
		return EventRename
	default:
		return ""
	}
}
