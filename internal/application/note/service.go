// Package note provides the note application service.
package note

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/focussync/internal/application/changes"
	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/note"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/clock"
)

var _ ports.EntitySyncPort = (*Service)(nil)

// Service manages session notes.
type Service struct {
	writer *changes.Writer
	clock  clock.Clock
}

// NewService creates a new note service.
func NewService(writer *changes.Writer, clk clock.Clock) *Service {
	return &Service{writer: writer, clock: clk}
}

// Add writes a new note into a session.
func (s *Service) Add(ctx context.Context, sessionID, content string) (*note.Note, error) {
	now := s.clock.Now()
	n := &note.Note{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Create(ctx, n, changes.OriginUserEdit); err != nil {
		return nil, err
	}
	return n, nil
}

// Create inserts a note. User edits require the session to exist.
func (s *Service) Create(ctx context.Context, n *note.Note, origin changes.Origin) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return s.writer.Write(ctx, origin, func(ctx context.Context, repos ports.Repositories, rec *changes.Recorder) error {
		if origin == changes.OriginUserEdit {
			if _, err := repos.Sessions.Get(ctx, n.SessionID); err != nil {
				return err
			}
		}
		if err := repos.Notes.Create(ctx, n); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntityNote, n.ID, domainSync.OpCreate, n.UpdatedAt, n)
	})
}

// Edit replaces a note's content.
func (s *Service) Edit(ctx context.Context, id, content string) (*note.Note, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	n.Content = content
	n.UpdatedAt = s.clock.Now()
	if err := s.Save(ctx, n, changes.OriginUserEdit); err != nil {
		return nil, err
	}
	return n, nil
}

// Save persists edits to an existing note.
func (s *Service) Save(ctx context.Context, n *note.Note, origin changes.Origin) error {
	if err := n.Validate(); err != nil {
		return err
	}
	return s.writer.Write(ctx, origin, func(ctx context.Context, repos ports.Repositories, rec *changes.Recorder) error {
		if err := repos.Notes.Update(ctx, n); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntityNote, n.ID, domainSync.OpUpdate, n.UpdatedAt, n)
	})
}

// Delete removes a note.
func (s *Service) Delete(ctx context.Context, id string, origin changes.Origin) error {
	return s.writer.Write(ctx, origin, func(ctx context.Context, repos ports.Repositories, rec *changes.Recorder) error {
		if err := repos.Notes.Delete(ctx, id); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntityNote, id, domainSync.OpDelete, s.clock.Now(), nil)
	})
}

// Get returns a note by ID.
func (s *Service) Get(ctx context.Context, id string) (*note.Note, error) {
	return s.writer.Repos().Notes.Get(ctx, id)
}

// List returns a session's notes, oldest first.
func (s *Service) List(ctx context.Context, sessionID string) ([]*note.Note, error) {
	return s.writer.Repos().Notes.ListBySession(ctx, sessionID)
}

// EntityType implements ports.EntitySyncPort.
func (s *Service) EntityType() domainSync.EntityType {
	return domainSync.EntityNote
}

// PreparePush publishes the queued snapshot as is.
func (s *Service) PreparePush(_ context.Context, change *domainSync.CoalescedChange, _ ports.ObjectStorePort) (json.RawMessage, error) {
	return change.Payload, nil
}

// ApplyRemote reconciles a remote note with the local row.
func (s *Service) ApplyRemote(ctx context.Context, rec *domainSync.RemoteRecord, _ ports.ObjectStorePort) (domainSync.Decision, error) {
	var incoming note.Note
	if !rec.Deleted {
		if err := changes.DecodePayload(rec, &incoming); err != nil {
			return domainSync.DecisionSkip, err
		}
		incoming.ID = rec.EntityID
		incoming.UpdatedAt = rec.ModifiedAt
		incoming.SyncVersion = rec.Version
		incoming.SyncedAt = s.clock.Now()
	}

	var decision domainSync.Decision
	err := s.writer.Write(ctx, changes.OriginSyncApply, func(ctx context.Context, repos ports.Repositories, _ *changes.Recorder) error {
		var err error
		decision, err = changes.Reconcile(rec,
			func() (domainSync.LocalState, error) {
				local, err := repos.Notes.Get(ctx, rec.EntityID)
				if domainErrors.IsNotFound(err) {
					return domainSync.LocalState{}, nil
				}
				if err != nil {
					return domainSync.LocalState{}, err
				}
				return changes.StateOf(true, local.UpdatedAt, local.SyncVersion), nil
			},
			func() error { return repos.Notes.Upsert(ctx, &incoming) },
			func() error { return repos.Notes.Delete(ctx, rec.EntityID) },
		)
		return err
	})
	return decision, err
}

// MarkSynced records the remote version a note was pushed as.
func (s *Service) MarkSynced(ctx context.Context, id string, version int64, at time.Time) error {
	return s.writer.Repos().Notes.MarkSynced(ctx, id, version, at)
}

// PurgeRemote is a no-op: notes own no remote objects.
func (s *Service) PurgeRemote(context.Context, string, ports.ObjectStorePort) error {
	return nil
}
