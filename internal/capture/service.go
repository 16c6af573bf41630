// Package capture is the façade the field UI calls.
//
// Every operation here is safe to call with no network: capture always lands
// in the local pending store, and only a later sync attempt can fail. The
// service is an explicit, constructed instance; the host application builds
// one per identity and injects it into the UI layer.
package capture

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fieldops/fieldsync/internal/blob"
	"github.com/fieldops/fieldsync/internal/db"
	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/media"
	"github.com/fieldops/fieldsync/internal/merge"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/netmon"
	"github.com/fieldops/fieldsync/internal/remote"
	enginepkg "github.com/fieldops/fieldsync/internal/sync"
)

// Identity is the already-resolved identity context the engine scopes
// captures with. The engine does not authenticate.
type Identity struct {
	OrgID  string
	UserID string
}

// Options carries the per-capture parameters.
type Options struct {
	ProjectID       string
	Caption         string
	PhaseID         string
	TaskID          string
	IncludeLocation bool
}

// Service composes the engine components behind the UI-facing API.
type Service struct {
	identity  Identity
	store     *db.PendingStore
	blobs     *blob.Arena
	processor *media.Processor
	monitor   *netmon.Monitor
	engine    *enginepkg.Engine
	docs      remote.DocumentStore
}

// NewService creates a Service.
func NewService(identity Identity, store *db.PendingStore, blobs *blob.Arena,
	processor *media.Processor, monitor *netmon.Monitor,
	engine *enginepkg.Engine, docs remote.DocumentStore) *Service {
	return &Service{
		identity:  identity,
		store:     store,
		blobs:     blobs,
		processor: processor,
		monitor:   monitor,
		engine:    engine,
		docs:      docs,
	}
}

// CaptureOffline validates and processes a photo asset and queues it for
// upload. The returned local id is durable: the item is on disk before this
// returns. Validation errors surface synchronously and leave the queue
// untouched.
func (s *Service) CaptureOffline(ctx context.Context, asset media.RawAsset, opts Options) (string, error) {
	processed, err := s.processor.Process(asset, media.Options{
		IncludeLocation: opts.IncludeLocation,
	})
	if err != nil {
		return "", err
	}

	payloadRef, err := s.blobs.Store(processed.Data)
	if err != nil {
		return "", err
	}
	thumbRef, err := s.blobs.Store(processed.Thumbnail)
	if err != nil {
		s.blobs.Delete(payloadRef)
		return "", err
	}

	item := &models.PendingItem{
		Scope:      s.scope(opts.ProjectID),
		Kind:       models.KindPhoto,
		PayloadRef: payloadRef,
		ThumbRef:   thumbRef,
		Filename:   processed.Filename,
		Metadata:   s.metadata(processed, opts),
		EnqueuedAt: time.Now().UnixMilli(),
	}

	localID, err := s.store.Insert(item)
	if err != nil {
		s.blobs.Delete(payloadRef)
		s.blobs.Delete(thumbRef)
		return "", err
	}

	return localID, nil
}

// CaptureTaskStatus queues a task-status change.
func (s *Service) CaptureTaskStatus(ctx context.Context, opts Options, fields interface{}) (string, error) {
	return s.captureStructured(models.KindTaskStatus, opts, fields)
}

// CaptureDailyLog queues a daily log entry.
func (s *Service) CaptureDailyLog(ctx context.Context, opts Options, fields interface{}) (string, error) {
	return s.captureStructured(models.KindDailyLog, opts, fields)
}

func (s *Service) captureStructured(kind models.ItemKind, opts Options, fields interface{}) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "marshal fields", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", apperrors.New(apperrors.ErrInvalid, "empty field changes")
	}

	now := time.Now()
	item := &models.PendingItem{
		Scope:  s.scope(opts.ProjectID),
		Kind:   kind,
		Fields: raw,
		Metadata: models.ItemMetadata{
			CapturedAt: now.UnixMilli(),
			Caption:    opts.Caption,
			PhaseID:    opts.PhaseID,
			TaskID:     opts.TaskID,
		},
		EnqueuedAt: now.UnixMilli(),
	}

	return s.store.Insert(item)
}

// SyncNow runs one queue drain and returns the aggregate counts. It never
// returns an error; per-item failures are recorded on the items.
func (s *Service) SyncNow(ctx context.Context) enginepkg.Result {
	return s.engine.ProcessQueue(ctx)
}

// DeletePending removes a queued or failed item and its blobs. Deleting an
// item mid-upload is rejected; it must reach a terminal state first, so a
// delete can never orphan a half-finished remote upload.
func (s *Service) DeletePending(localID string) error {
	item, err := s.store.Get(localID)
	if err != nil {
		return err
	}

	switch item.SyncStatus {
	case models.StatusUploading:
		return apperrors.Newf(apperrors.ErrDeleteInFlight,
			"item %s is uploading; wait for it to finish or fail", localID)
	case models.StatusQueued, models.StatusFailed, models.StatusCompleted:
		// Deletable.
	}

	if err := s.store.Remove(localID); err != nil {
		return err
	}
	if item.PayloadRef != "" {
		s.blobs.Delete(item.PayloadRef)
	}
	if item.ThumbRef != "" {
		s.blobs.Delete(item.ThumbRef)
	}
	return nil
}

// PendingForProject returns the project's non-completed items, newest-first.
func (s *Service) PendingForProject(projectID string) ([]*models.PendingItem, error) {
	return s.store.ListByScope(projectID)
}

// PendingCount returns the number of non-completed items for a project, for
// badge rendering.
func (s *Service) PendingCount(projectID string) (int, error) {
	return s.store.Count(projectID)
}

// SubscribeQueueChanges fires cb on every pending store mutation.
func (s *Service) SubscribeQueueChanges(cb func(db.Change)) func() {
	return s.store.Subscribe(cb)
}

// IsOnline reports the current debounced connectivity state.
func (s *Service) IsOnline() bool {
	return s.monitor.IsOnline()
}

// NewProjectView builds the live merged read model for one project.
func (s *Service) NewProjectView(projectID string) (*merge.View, error) {
	return merge.NewView(projectID, s.store, s.docs)
}

func (s *Service) scope(projectID string) models.Scope {
	return models.Scope{
		ProjectID: projectID,
		OrgID:     s.identity.OrgID,
		UserID:    s.identity.UserID,
	}
}

func (s *Service) metadata(p *media.Processed, opts Options) models.ItemMetadata {
	meta := models.ItemMetadata{
		CapturedAt: p.CapturedAt.UnixMilli(),
		Caption:    opts.Caption,
		PhaseID:    opts.PhaseID,
		TaskID:     opts.TaskID,
	}
	if p.Location != nil {
		lat, lng := p.Location.Lat, p.Location.Lng
		meta.Latitude = &lat
		meta.Longitude = &lng
	}
	return meta
}
