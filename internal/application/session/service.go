// Package session provides the session application service.
package session

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/focussync/internal/application/changes"
	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/session"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/clock"
)

// Compile-time check that Service can be driven by the sync engine.
var _ ports.EntitySyncPort = (*Service)(nil)

// Service manages work sessions.
type Service struct {
	writer *changes.Writer
	clock  clock.Clock
}

// NewService creates a new session service.
func NewService(writer *changes.Writer, clk clock.Clock) *Service {
	return &Service{writer: writer, clock: clk}
}

// Start begins a new session now.
func (s *Service) Start(ctx context.Context, opts session.StartOptions) (*session.Session, error) {
	now := s.clock.Now()
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = session.GenerateTitle()
	}

	sess := &session.Session{
		ID:              uuid.New().String(),
		Title:           title,
		Description:     opts.Description,
		StartedAt:       now,
		PlannedDuration: opts.PlannedDuration,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Create(ctx, sess, changes.OriginUserEdit); err != nil {
		return nil, err
	}
	return sess, nil
}

// Create inserts a session.
func (s *Service) Create(ctx context.Context, sess *session.Session, origin changes.Origin) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	return s.writer.Write(ctx, origin, func(ctx context.Context, repos ports.Repositories, rec *changes.Recorder) error {
		if err := repos.Sessions.Create(ctx, sess); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntitySession, sess.ID, domainSync.OpCreate, sess.UpdatedAt, sess)
	})
}

// Save persists edits to an existing session.
func (s *Service) Save(ctx context.Context, sess *session.Session, origin changes.Origin) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	return s.writer.Write(ctx, origin, func(ctx context.Context, repos ports.Repositories, rec *changes.Recorder) error {
		if err := repos.Sessions.Update(ctx, sess); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntitySession, sess.ID, domainSync.OpUpdate, sess.UpdatedAt, sess)
	})
}

// Update edits a session's fields.
func (s *Service) Update(ctx context.Context, id string, opts session.UpdateOptions) (*session.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if opts.Title != nil {
		sess.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		sess.Description = *opts.Description
	}
	if opts.PlannedDuration != nil {
		sess.PlannedDuration = *opts.PlannedDuration
	}
	sess.UpdatedAt = s.clock.Now()

	if err := s.Save(ctx, sess, changes.OriginUserEdit); err != nil {
		return nil, err
	}
	return sess, nil
}

// End stops a running session now.
func (s *Service) End(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if err := sess.End(now); err != nil {
		return nil, err
	}
	sess.UpdatedAt = now

	if err := s.Save(ctx, sess, changes.OriginUserEdit); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session. A user delete also removes the session's notes
// and images, queuing one delete per entity. A sync delete removes only the
// session row; child tombstones arrive as their own records.
func (s *Service) Delete(ctx context.Context, id string, origin changes.Origin) error {
	return s.writer.Write(ctx, origin, func(ctx context.Context, repos ports.Repositories, rec *changes.Recorder) error {
		now := s.clock.Now()

		if origin == changes.OriginUserEdit {
			if _, err := repos.Sessions.Get(ctx, id); err != nil {
				return err
			}
			if err := deleteChildren(ctx, repos, rec, id, now); err != nil {
				return err
			}
		}

		if err := repos.Sessions.Delete(ctx, id); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntitySession, id, domainSync.OpDelete, now, nil)
	})
}

func deleteChildren(ctx context.Context, repos ports.Repositories, rec *changes.Recorder, sessionID string, now time.Time) error {
	images, err := repos.Images.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, img := range images {
		if err := repos.Images.Delete(ctx, img.ID); err != nil {
			return err
		}
		if err := rec.Record(ctx, domainSync.EntityImage, img.ID, domainSync.OpDelete, now, nil); err != nil {
			return err
		}
	}

	notes, err := repos.Notes.ListBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, n := range notes {
		if err := repos.Notes.Delete(ctx, n.ID); err != nil {
			return err
		}
		if err := rec.Record(ctx, domainSync.EntityNote, n.ID, domainSync.OpDelete, now, nil); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a session by ID.
func (s *Service) Get(ctx context.Context, id string) (*session.Session, error) {
	return s.writer.Repos().Sessions.Get(ctx, id)
}

// Active returns the running session, or a not-found error if there is none.
func (s *Service) Active(ctx context.Context) (*session.Session, error) {
	sess, err := s.writer.Repos().Sessions.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, domainErrors.NewError(domainErrors.CodeNotFound, "no running session", domainErrors.ErrNoActiveSession)
	}
	return sess, nil
}

// List returns sessions matching filter.
func (s *Service) List(ctx context.Context, filter session.Filter) ([]*session.Session, error) {
	return s.writer.Repos().Sessions.List(ctx, filter)
}

// EntityType implements ports.EntitySyncPort.
func (s *Service) EntityType() domainSync.EntityType {
	return domainSync.EntitySession
}

// PreparePush publishes the queued snapshot as is.
func (s *Service) PreparePush(_ context.Context, change *domainSync.CoalescedChange, _ ports.ObjectStorePort) (json.RawMessage, error) {
	return change.Payload, nil
}

// ApplyRemote reconciles a remote session with the local row.
func (s *Service) ApplyRemote(ctx context.Context, rec *domainSync.RemoteRecord, _ ports.ObjectStorePort) (domainSync.Decision, error) {
	var incoming session.Session
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
				local, err := repos.Sessions.Get(ctx, rec.EntityID)
				if domainErrors.IsNotFound(err) {
					return domainSync.LocalState{}, nil
				}
				if err != nil {
					return domainSync.LocalState{}, err
				}
				return changes.StateOf(true, local.UpdatedAt, local.SyncVersion), nil
			},
			func() error { return repos.Sessions.Upsert(ctx, &incoming) },
			func() error { return repos.Sessions.Delete(ctx, rec.EntityID) },
		)
		return err
	})
	return decision, err
}

// MarkSynced records the remote version a session was pushed as.
func (s *Service) MarkSynced(ctx context.Context, id string, version int64, at time.Time) error {
	return s.writer.Repos().Sessions.MarkSynced(ctx, id, version, at)
}

// PurgeRemote is a no-op: sessions own no remote objects.
func (s *Service) PurgeRemote(context.Context, string, ports.ObjectStorePort) error {
	return nil
}
