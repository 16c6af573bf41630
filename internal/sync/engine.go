// Package sync drains the local pending queue to the remote stores.
package sync

import (
	"context"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldops/fieldsync/internal/blob"
	"github.com/fieldops/fieldsync/internal/db"
	"github.com/fieldops/fieldsync/internal/logging"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/remote"
)

// Config holds the orchestrator's retry policy.
type Config struct {
	// MaxAttempts is the retry ceiling. Items that fail this many times
	// stay failed until the user retries or deletes them; they are never
	// silently dropped.
	MaxAttempts int

	// BackoffBase and BackoffCap bound the exponential cool-down for
	// failed items: base * 2^(attempts-1), capped.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// StaleUploadAfter is the stale-lock timeout: an item still marked
	// uploading whose last attempt is older than this is presumed
	// abandoned by a dead process and becomes retry-eligible.
	StaleUploadAfter time.Duration
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      5,
		BackoffBase:      30 * time.Second,
		BackoffCap:       time.Hour,
		StaleUploadAfter: 10 * time.Minute,
	}
}

// Result is the aggregate outcome of one queue drain, for UI toasting.
type Result struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// Engine is the sync orchestrator: a single-flight worker that drains the
// pending store oldest-first, uploads each item's payload to the object
// store, writes its record to the document store tagged with the local id,
// and records per-item status. ProcessQueue never returns an error; every
// per-item failure is caught and written onto the item.
type Engine struct {
	store   *db.PendingStore
	blobs   *blob.Arena
	objects remote.ObjectStore
	docs    remote.DocumentStore
	cfg     Config

	inFlight atomic.Bool
	now      func() time.Time
	log      *logrus.Entry
}

// NewEngine creates an Engine.
func NewEngine(store *db.PendingStore, blobs *blob.Arena, objects remote.ObjectStore, docs remote.DocumentStore, cfg Config) *Engine {
	return &Engine{
		store:   store,
		blobs:   blobs,
		objects: objects,
		docs:    docs,
		cfg:     cfg,
		now:     time.Now,
		log:     logging.Component("sync"),
	}
}

// ProcessQueue drains the queue once. A call that arrives while a drain is
// already in flight is a no-op returning a zero Result; combined with the
// per-item claim in the store this prevents duplicate concurrent uploads
// from the same device.
func (e *Engine) ProcessQueue(ctx context.Context) Result {
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{}
	}
	defer e.inFlight.Store(false)

	now := e.now()

	// Recover items a dead process left mid-upload before selecting work.
	if n, err := e.store.RecoverStale(now.Add(-e.cfg.StaleUploadAfter)); err != nil {
		e.log.WithError(err).Warn("stale upload recovery failed")
	} else if n > 0 {
		e.log.WithField("recovered", n).Info("recovered interrupted uploads")
	}

	items, err := e.store.ListPending()
	if err != nil {
		e.log.WithError(err).Error("cannot load pending queue")
		return Result{}
	}

	var res Result
	for _, item := range items {
		select {
		case <-ctx.Done():
			return res
		default:
		}

		if !e.eligible(item, now) {
			continue
		}

		synced, err := e.syncItem(ctx, item)
		if err != nil {
			res.Failed++
			e.recordFailure(item, err)
			continue
		}
		if synced {
			res.Successful++
		}
	}

	if res.Successful > 0 || res.Failed > 0 {
		e.log.WithFields(logrus.Fields{
			"successful": res.Successful,
			"failed":     res.Failed,
		}).Info("queue drain finished")
	}

	return res
}

// eligible decides whether an item should be attempted in this drain.
func (e *Engine) eligible(item *models.PendingItem, now time.Time) bool {
	switch item.SyncStatus {
	case models.StatusQueued:
		return true
	case models.StatusFailed:
		if item.Attempts >= e.cfg.MaxAttempts {
			return false
		}
		cooldown := e.backoff(item.Attempts)
		return now.Sub(time.UnixMilli(item.LastAttemptAt)) >= cooldown
	case models.StatusUploading:
		// Still claimed; stale rows were already recovered above.
		return false
	case models.StatusCompleted:
		return false
	}
	return false
}

// backoff returns the cool-down after the given number of failed attempts:
// base * 2^(attempts-1), capped.
func (e *Engine) backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := e.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= e.cfg.BackoffCap {
			return e.cfg.BackoffCap
		}
	}
	if d > e.cfg.BackoffCap {
		return e.cfg.BackoffCap
	}
	return d
}

// syncItem uploads one item and completes it. Any error leaves the item for
// recordFailure; partial remote state is safe because the object key and the
// document upsert are both keyed by the local id.
func (e *Engine) syncItem(ctx context.Context, item *models.PendingItem) (bool, error) {
	claimed, err := e.store.ClaimForUpload(string(item.LocalID), e.now())
	if err != nil {
		return false, err
	}
	if !claimed {
		// Another pass holds it; not a failure.
		return false, nil
	}

	rec := &models.RemoteRecord{
		LocalID:  string(item.LocalID),
		Scope:    item.Scope,
		Kind:     item.Kind,
		Filename: item.Filename,
		Fields:   item.Fields,
		Metadata: item.Metadata,
	}

	if item.Kind == models.KindPhoto {
		if err := e.uploadPhoto(ctx, item, rec); err != nil {
			return false, err
		}
	}

	if err := e.docs.Upsert(ctx, rec); err != nil {
		return false, fmt.Errorf("document write: %w", err)
	}

	// The remote record is authoritative now. Mark completed so
	// subscribers observe the terminal state, then remove the row and
	// its blobs.
	if err := e.store.UpdateStatus(string(item.LocalID), models.StatusCompleted, nil); err != nil {
		e.log.WithError(err).WithField("local_id", item.LocalID).
			Warn("completed item could not be marked")
	}
	if err := e.store.Remove(string(item.LocalID)); err != nil {
		e.log.WithError(err).WithField("local_id", item.LocalID).
			Warn("completed item could not be removed")
	}
	e.cleanupBlobs(item)

	e.log.WithFields(logrus.Fields{
		"local_id": item.LocalID,
		"kind":     item.Kind,
	}).Info("item synced")

	return true, nil
}

// uploadPhoto pushes the payload and thumbnail blobs to the object store
// under keys derived from scope and local id, so a retried upload overwrites
// its own partial predecessor.
func (e *Engine) uploadPhoto(ctx context.Context, item *models.PendingItem, rec *models.RemoteRecord) error {
	data, err := e.blobs.Load(item.PayloadRef)
	if err != nil {
		return fmt.Errorf("load payload: %w", err)
	}

	key := ObjectKey(item.Scope, string(item.LocalID), item.Filename)
	url, err := e.objects.Upload(ctx, key, data, "image/jpeg")
	if err != nil {
		return fmt.Errorf("object upload: %w", err)
	}
	rec.URL = url

	if item.ThumbRef != "" {
		thumb, err := e.blobs.Load(item.ThumbRef)
		if err != nil {
			return fmt.Errorf("load thumbnail: %w", err)
		}
		thumbURL, err := e.objects.Upload(ctx, key+".thumb.jpg", thumb, "image/jpeg")
		if err != nil {
			return fmt.Errorf("thumbnail upload: %w", err)
		}
		rec.ThumbURL = thumbURL
	}

	return nil
}

// recordFailure writes the failure onto the item: failed status, attempts+1,
// last error. The drain continues with the next item.
func (e *Engine) recordFailure(item *models.PendingItem, cause error) {
	attempts := item.Attempts + 1
	msg := cause.Error()
	at := e.now().UnixMilli()

	err := e.store.UpdateStatus(string(item.LocalID), models.StatusFailed, &db.StatusPatch{
		Attempts:      &attempts,
		LastError:     &msg,
		LastAttemptAt: &at,
	})
	if err != nil {
		e.log.WithError(err).WithField("local_id", item.LocalID).
			Error("failed item could not be recorded")
	}

	e.log.WithFields(logrus.Fields{
		"local_id": item.LocalID,
		"attempts": attempts,
		"error":    msg,
	}).Warn("item sync failed")
}

func (e *Engine) cleanupBlobs(item *models.PendingItem) {
	if item.PayloadRef != "" {
		if err := e.blobs.Delete(item.PayloadRef); err != nil {
			e.log.WithError(err).Warn("payload blob cleanup failed")
		}
	}
	if item.ThumbRef != "" {
		if err := e.blobs.Delete(item.ThumbRef); err != nil {
			e.log.WithError(err).Warn("thumbnail blob cleanup failed")
		}
	}
}

// ObjectKey derives the object store key for an item. The key is a pure
// function of scope and local id, which is what makes re-uploads overwrite
// instead of duplicate.
func ObjectKey(scope models.Scope, localID, filename string) string {
	if filename == "" {
		filename = "payload.jpg"
	}
	return path.Join(scope.OrgID, scope.ProjectID, localID, filename)
}
