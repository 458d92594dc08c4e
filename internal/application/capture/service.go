// Package capture imports images dropped into an inbox directory into the
// active focus session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	imageApp "github.com/jbctechsolutions/focussync/internal/application/image"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/image"
	"github.com/jbctechsolutions/focussync/internal/domain/session"
	infraCapture "github.com/jbctechsolutions/focussync/internal/infrastructure/capture"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/logging"
)

// ImportedDir is the inbox subdirectory files are moved to once imported.
const ImportedDir = "imported"

// SessionSource finds the session new captures belong to.
type SessionSource interface {
	Active(ctx context.Context) (*session.Session, error)
}

// ImageAdder stores captured images as user edits.
type ImageAdder interface {
	Add(ctx context.Context, opts imageApp.AddOptions) (*image.Image, error)
}

// Config holds configuration for the capture service.
type Config struct {
	InboxDir       string
	SettleDuration time.Duration
	// OnImport is called after each import attempt (optional)
	OnImport func(ImportEvent)
}

// ImportEvent reports the outcome of importing one inbox file.
type ImportEvent struct {
	Path      string
	ImageID   string
	SessionID string
	Error     error
}

// Service watches the inbox and turns new image files into images on the
// active session. Files stay in the inbox when no session is running.
type Service struct {
	sessions SessionSource
	images   ImageAdder
	watcher  *infraCapture.Watcher
	logger   *logging.Logger
	config   Config

	running  bool
	mu       sync.Mutex
	importMu sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewService creates a capture service.
func NewService(cfg Config, sessions SessionSource, images ImageAdder, logger *logging.Logger) (*Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session source is required")
	}
	if images == nil {
		return nil, fmt.Errorf("image service is required")
	}
	if cfg.InboxDir == "" {
		return nil, fmt.Errorf("inbox directory is required")
	}

	watcher, err := infraCapture.NewWatcher(infraCapture.WatcherConfig{
		SettleDuration: cfg.SettleDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if logger == nil {
		logger = logging.Default()
	}

	return &Service{
		sessions: sessions,
		images:   images,
		watcher:  watcher,
		logger:   logger,
		config:   cfg,
	}, nil
}

// Start imports files already in the inbox, then watches it.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := os.MkdirAll(s.config.InboxDir, 0750); err != nil {
		return fmt.Errorf("failed to create inbox: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.watcher.Watch(s.config.InboxDir); err != nil {
		s.cancel()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	s.wg.Add(1)
	go s.processEvents()

	s.running = true
	s.logger.Info("capture inbox watching", "dir", s.config.InboxDir)

	s.ScanInbox(s.ctx)
	return nil
}

// Stop stops watching the inbox.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.cancel()
	if err := s.watcher.Close(); err != nil {
		s.logger.Warn("error closing watcher", "error", err)
	}
	s.wg.Wait()

	s.running = false
	s.logger.Info("capture inbox stopped")
	return nil
}

// IsRunning returns true if the service is watching.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ScanInbox imports every image currently in the inbox and returns how
// many were imported.
func (s *Service) ScanInbox(ctx context.Context) int {
	entries, err := os.ReadDir(s.config.InboxDir)
	if err != nil {
		s.logger.Warn("error reading inbox", "dir", s.config.InboxDir, "error", err)
		return 0
	}

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || !infraCapture.IsImageFile(entry.Name()) {
			continue
		}
		if _, err := s.Import(ctx, filepath.Join(s.config.InboxDir, entry.Name())); err == nil {
			imported++
		}
	}
	return imported
}

// Import adds the file at path to the active session and moves it into
// the imported directory.
func (s *Service) Import(ctx context.Context, path string) (*image.Image, error) {
	// the startup scan and watcher events can race on one file
	s.importMu.Lock()
	img, err := s.importFile(ctx, path)
	s.importMu.Unlock()

	event := ImportEvent{Path: path, Error: err}
	if img != nil {
		event.ImageID = img.ID
		event.SessionID = img.SessionID
	}
	if s.config.OnImport != nil {
		s.config.OnImport(event)
	}
	return img, err
}

func (s *Service) importFile(ctx context.Context, path string) (*image.Image, error) {
	sess, err := s.sessions.Active(ctx)
	if err != nil {
		if errors.Is(err, domainErrors.ErrNoActiveSession) {
			s.logger.Info("capture waiting for a session", "path", path)
		}
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domainErrors.NewError(domainErrors.CodeRepository, "failed to read capture", err)
	}

	base := filepath.Base(path)
	img, err := s.images.Add(ctx, imageApp.AddOptions{
		SessionID: sess.ID,
		Caption:   strings.TrimSuffix(base, filepath.Ext(base)),
		Data:      data,
	})
	if err != nil {
		s.logger.Warn("failed to import capture", "path", path, "error", err)
		return nil, err
	}

	if err := s.archive(path, img.ID); err != nil {
		// the image is stored; a leftover file would be imported twice
		s.logger.Warn("failed to archive capture", "path", path, "error", err)
	}

	s.logger.Info("capture imported",
		"path", path,
		"image_id", img.ID,
		"session_id", sess.ID,
		"size_bytes", img.SizeBytes,
	)
	return img, nil
}

func (s *Service) archive(path, imageID string) error {
	dir := filepath.Join(s.config.InboxDir, ImportedDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, imageID+"-"+filepath.Base(path)))
}

func (s *Service) processEvents() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case event, ok := <-s.watcher.Events():
			if !ok {
				return
			}
			if event.Type != infraCapture.EventCreate && event.Type != infraCapture.EventWrite {
				continue
			}
			if _, err := os.Stat(event.Path); err != nil {
				// moved or removed before it settled
				continue
			}
			s.Import(s.ctx, event.Path)

		case err, ok := <-s.watcher.Errors():
			if !ok {
				return
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}
