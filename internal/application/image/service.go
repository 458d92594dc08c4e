// Package image provides the image application service. Image bytes are
// uploaded to the remote object store on push and downloaded on pull; change
// payloads carry metadata only.
package image

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/focussync/internal/application/changes"
	"github.com/jbctechsolutions/focussync/internal/application/ports"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/image"
	domainSync "github.com/jbctechsolutions/focussync/internal/domain/sync"
	"github.com/jbctechsolutions/focussync/internal/infrastructure/clock"
)

var _ ports.EntitySyncPort = (*Service)(nil)

// AddOptions describes a new image.
type AddOptions struct {
	SessionID   string
	NoteID      string // Optional
	Caption     string
	ContentType string // Sniffed from Data when empty
	Data        []byte
}

// Service manages captured images.
type Service struct {
	writer *changes.Writer
	clock  clock.Clock
}

// NewService creates a new image service.
func NewService(writer *changes.Writer, clk clock.Clock) *Service {
	return &Service{writer: writer, clock: clk}
}

// Add stores a new image in a session.
func (s *Service) Add(ctx context.Context, opts AddOptions) (*image.Image, error) {
	now := s.clock.Now()
	contentType := strings.TrimSpace(opts.ContentType)
	if contentType == "" {
		contentType = image.DetectContentType(opts.Data)
	}

	img := &image.Image{
		ID:          uuid.New().String(),
		SessionID:   opts.SessionID,
		NoteID:      opts.NoteID,
		Caption:     opts.Caption,
		ContentType: contentType,
		SizeBytes:   int64(len(opts.Data)),
		Data:        opts.Data,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Create(ctx, img, changes.OriginUserEdit); err != nil {
		return nil, err
	}
	return img, nil
}

// Create inserts an image. User edits require the session, and the note if
// one is given, to exist.
func (s *Service) Create(ctx context.Context, img *image.Image, origin changes.Origin) error {
	if err := img.Validate(); err != nil {
		return err
	}
	return s.writer.Write(ctx, origin, func(ctx context.Context, repos ports.Repositories, rec *changes.Recorder) error {
		if origin == changes.OriginUserEdit {
			if _, err := repos.Sessions.Get(ctx, img.SessionID); err != nil {
				return err
			}
			if img.NoteID != "" {
				if _, err := repos.Notes.Get(ctx, img.NoteID); err != nil {
					return err
				}
			}
		}
		if err := repos.Images.Create(ctx, img); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntityImage, img.ID, domainSync.OpCreate, img.UpdatedAt, img)
	})
}

// SetCaption changes an image's caption.
func (s *Service) SetCaption(ctx context.Context, id, caption string) (*image.Image, error) {
	img, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	img.Caption = caption
	img.UpdatedAt = s.clock.Now()
	if err := s.Save(ctx, img, changes.OriginUserEdit); err != nil {
		return nil, err
	}
	return img, nil
}

// Save persists edits to an existing image.
func (s *Service) Save(ctx context.Context, img *image.Image, origin changes.Origin) error {
	if err := img.Validate(); err != nil {
		return err
	}
	return s.writer.Write(ctx, origin, func(ctx context.Context, repos ports.Repositories, rec *changes.Recorder) error {
		if err := repos.Images.Update(ctx, img); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntityImage, img.ID, domainSync.OpUpdate, img.UpdatedAt, img)
	})
}

// Delete removes an image.
func (s *Service) Delete(ctx context.Context, id string, origin changes.Origin) error {
	return s.writer.Write(ctx, origin, func(ctx context.Context, repos ports.Repositories, rec *changes.Recorder) error {
		if err := repos.Images.Delete(ctx, id); err != nil {
			return err
		}
		return rec.Record(ctx, domainSync.EntityImage, id, domainSync.OpDelete, s.clock.Now(), nil)
	})
}

// Get returns an image including its data.
func (s *Service) Get(ctx context.Context, id string) (*image.Image, error) {
	return s.writer.Repos().Images.Get(ctx, id)
}

// List returns a session's images without data.
func (s *Service) List(ctx context.Context, sessionID string) ([]*image.Image, error) {
	return s.writer.Repos().Images.ListBySession(ctx, sessionID)
}

// EntityType implements ports.EntitySyncPort.
func (s *Service) EntityType() domainSync.EntityType {
	return domainSync.EntityImage
}

// PreparePush uploads the image data if the remote does not hold it and
// returns the queued metadata with the remote key filled in. An uploaded
// object can vanish when another device deleted the image, so updates check
// for it and upload again from the local row.
func (s *Service) PreparePush(ctx context.Context, change *domainSync.CoalescedChange, objects ports.ObjectStorePort) (json.RawMessage, error) {
	repos := s.writer.Repos()
	img, err := repos.Images.Get(ctx, change.EntityID)
	if err != nil {
		return nil, err
	}

	remoteKey := img.RemoteKey
	if remoteKey != "" && change.Operation != domainSync.OpCreate {
		ok, err := objects.HasObject(ctx, remoteKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			remoteKey = ""
		}
	}
	if remoteKey == "" {
		remoteKey, err = objects.UploadObject(ctx, domainSync.ImageObjectKey(img.ID), img.Data)
		if err != nil {
			return nil, err
		}
		if err := repos.Images.SetRemoteKey(ctx, img.ID, remoteKey); err != nil {
			return nil, err
		}
	}

	var meta image.Image
	if err := json.Unmarshal(change.Payload, &meta); err != nil {
		return nil, domainErrors.NewError(domainErrors.CodeValidation, "malformed queued image payload", err)
	}
	meta.RemoteKey = remoteKey
	payload, err := json.Marshal(&meta)
	if err != nil {
		return nil, domainErrors.NewError(domainErrors.CodeValidation, "could not encode image payload", err)
	}
	return payload, nil
}

// ApplyRemote reconciles a remote image with the local row, downloading its
// data when the local copy lacks it. The download happens before the write
// transaction opens.
func (s *Service) ApplyRemote(ctx context.Context, rec *domainSync.RemoteRecord, objects ports.ObjectStorePort) (domainSync.Decision, error) {
	var incoming image.Image
	if !rec.Deleted {
		if err := changes.DecodePayload(rec, &incoming); err != nil {
			return domainSync.DecisionSkip, err
		}
		incoming.ID = rec.EntityID
		incoming.UpdatedAt = rec.ModifiedAt
		incoming.SyncVersion = rec.Version
		incoming.SyncedAt = s.clock.Now()
		incoming.Data = nil

		data, err := s.fetchData(ctx, rec, &incoming, objects)
		if err != nil {
			return domainSync.DecisionSkip, err
		}
		incoming.Data = data
	}

	var decision domainSync.Decision
	err := s.writer.Write(ctx, changes.OriginSyncApply, func(ctx context.Context, repos ports.Repositories, _ *changes.Recorder) error {
		var err error
		decision, err = changes.Reconcile(rec,
			func() (domainSync.LocalState, error) { return localState(ctx, repos, rec.EntityID) },
			func() error { return repos.Images.Upsert(ctx, &incoming) },
			func() error { return repos.Images.Delete(ctx, rec.EntityID) },
		)
		return err
	})
	return decision, err
}

// fetchData downloads image bytes when the record would be applied and the
// local row does not already hold the same object.
func (s *Service) fetchData(ctx context.Context, rec *domainSync.RemoteRecord, incoming *image.Image, objects ports.ObjectStorePort) ([]byte, error) {
	repos := s.writer.Repos()
	state, err := localState(ctx, repos, rec.EntityID)
	if err != nil {
		return nil, err
	}
	if domainSync.Resolve(state, rec) != domainSync.DecisionApplyRemote {
		return nil, nil
	}

	if state.Exists {
		local, err := repos.Images.Get(ctx, rec.EntityID)
		if err != nil {
			return nil, err
		}
		if local.RemoteKey == incoming.RemoteKey && len(local.Data) > 0 {
			return nil, nil
		}
	}

	if incoming.RemoteKey == "" {
		return nil, domainErrors.WithContext(domainErrors.Validation("remote image has no object key"), "entity", rec.Key().String())
	}
	data, err := objects.DownloadObject(ctx, incoming.RemoteKey)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func localState(ctx context.Context, repos ports.Repositories, id string) (domainSync.LocalState, error) {
	local, err := repos.Images.Get(ctx, id)
	if domainErrors.IsNotFound(err) {
		return domainSync.LocalState{}, nil
	}
	if err != nil {
		return domainSync.LocalState{}, err
	}
	return changes.StateOf(true, local.UpdatedAt, local.SyncVersion), nil
}

// MarkSynced records the remote version an image was pushed as.
func (s *Service) MarkSynced(ctx context.Context, id string, version int64, at time.Time) error {
	return s.writer.Repos().Images.MarkSynced(ctx, id, version, at)
}

// PurgeRemote deletes the image's uploaded data. A missing object is fine.
func (s *Service) PurgeRemote(ctx context.Context, id string, objects ports.ObjectStorePort) error {
	err := objects.DeleteObject(ctx, domainSync.ImageObjectKey(id))
	if errors.Is(err, domainErrors.ErrObjectNotFound) {
		return nil
	}
	return err
}
