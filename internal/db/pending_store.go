// Package db provides the Local Pending Store: the write-ahead queue of
// captured field data awaiting upload.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/fieldops/fieldsync/internal/errors"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/uuid"
)

// ChangeType discriminates pending store change notifications.
type ChangeType string

const (
	ChangeInserted ChangeType = "inserted"
	ChangeUpdated  ChangeType = "updated"
	ChangeRemoved  ChangeType = "removed"
)

// Change describes one mutation of the pending store.
type Change struct {
	Type      ChangeType
	LocalID   string
	ProjectID string
}

// StatusPatch carries the optional fields of an UpdateStatus call.
type StatusPatch struct {
	Attempts      *int
	LastError     *string
	LastAttemptAt *int64
}

// PendingStore is the durable queue of pending items. It exclusively owns
// every item until the item completes; write failures are surfaced
// synchronously to the caller of the single failing operation.
type PendingStore struct {
	db *sql.DB

	mu      sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// NewPendingStore creates a PendingStore over an opened database.
func NewPendingStore(db *DB) *PendingStore {
	return &PendingStore{
		db:   db.DB,
		subs: make(map[int]func(Change)),
	}
}

const pendingColumns = `local_id, project_id, org_id, user_id, kind, payload_ref,
	thumb_ref, filename, fields, metadata, sync_status, attempts, last_error,
	enqueued_at, last_attempt_at`

// Insert persists a new pending item and returns its generated local id.
// The item is durable on disk before Insert returns; callers may treat the
// returned id as a durability guarantee. Status is forced to queued and
// attempts to zero regardless of the input.
func (s *PendingStore) Insert(item *models.PendingItem) (string, error) {
	if err := item.Scope.Validate(); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "invalid scope", err)
	}
	if !item.Kind.IsValid() {
		return "", apperrors.Newf(apperrors.ErrInvalid, "unknown item kind %q", item.Kind)
	}

	item.LocalID = models.UUID(uuid.New())
	item.SyncStatus = models.StatusQueued
	item.Attempts = 0
	if item.EnqueuedAt == 0 {
		item.EnqueuedAt = time.Now().UnixMilli()
	}

	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrInvalid, "marshal metadata", err)
	}

	query := `
	INSERT INTO pending_items (local_id, project_id, org_id, user_id, kind,
		payload_ref, thumb_ref, filename, fields, metadata, sync_status,
		attempts, last_error, enqueued_at, last_attempt_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query,
		item.LocalID, item.Scope.ProjectID, item.Scope.OrgID, item.Scope.UserID,
		item.Kind, nullable(item.PayloadRef), nullable(item.ThumbRef),
		nullable(item.Filename), nullableRaw(item.Fields), string(meta),
		item.SyncStatus, item.Attempts, nullable(item.LastError),
		item.EnqueuedAt, nullInt(item.LastAttemptAt),
	)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDatabase, "insert pending item", err)
	}

	s.notify(Change{Type: ChangeInserted, LocalID: string(item.LocalID), ProjectID: item.Scope.ProjectID})

	return string(item.LocalID), nil
}

// Get retrieves a pending item by local id.
func (s *PendingStore) Get(localID string) (*models.PendingItem, error) {
	row := s.db.QueryRow(
		"SELECT "+pendingColumns+" FROM pending_items WHERE local_id = ?", localID)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "pending item %s not found", localID)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "get pending item", err)
	}
	return item, nil
}

// UpdateStatus sets the status of one item, applying the optional patch in
// the same statement. Only the sync orchestrator transitions items into and
// out of uploading, so there is no read-modify-write race here.
func (s *PendingStore) UpdateStatus(localID string, status models.SyncStatus, patch *StatusPatch) error {
	if !status.IsValid() {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown sync status %q", status)
	}

	query := "UPDATE pending_items SET sync_status = ?"
	args := []interface{}{status}

	if patch != nil {
		if patch.Attempts != nil {
			query += ", attempts = ?"
			args = append(args, *patch.Attempts)
		}
		if patch.LastError != nil {
			query += ", last_error = ?"
			args = append(args, *patch.LastError)
		}
		if patch.LastAttemptAt != nil {
			query += ", last_attempt_at = ?"
			args = append(args, *patch.LastAttemptAt)
		}
	}

	query += " WHERE local_id = ?"
	args = append(args, localID)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "update status", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "pending item %s not found", localID)
	}

	s.notify(Change{Type: ChangeUpdated, LocalID: localID})

	return nil
}

// ClaimForUpload atomically transitions an item from queued or failed to
// uploading, recording the attempt time. Returns false if the item was
// already uploading or completed, which keeps the per-item single-flight
// guarantee even if two drains ever overlap.
func (s *PendingStore) ClaimForUpload(localID string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE pending_items
		SET sync_status = ?, last_attempt_at = ?
		WHERE local_id = ? AND sync_status IN (?, ?)`,
		models.StatusUploading, at.UnixMilli(), localID,
		models.StatusQueued, models.StatusFailed,
	)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "claim for upload", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "claim for upload", err)
	}
	if n == 0 {
		return false, nil
	}

	s.notify(Change{Type: ChangeUpdated, LocalID: localID})

	return true, nil
}

// RecoverStale marks uploading items whose last attempt predates cutoff as
// failed. An item stuck in uploading past the stale-lock timeout belongs to
// a process that died mid-upload; marking it failed makes it retry-eligible.
func (s *PendingStore) RecoverStale(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE pending_items
		SET sync_status = ?, last_error = 'upload interrupted'
		WHERE sync_status = ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)`,
		models.StatusFailed, models.StatusUploading, cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "recover stale uploads", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.notify(Change{Type: ChangeUpdated})
	}
	return int(n), nil
}

// ListByScope returns the non-completed pending items for a project,
// newest-first for display.
func (s *PendingStore) ListByScope(projectID string) ([]*models.PendingItem, error) {
	rows, err := s.db.Query(
		"SELECT "+pendingColumns+` FROM pending_items
		WHERE project_id = ? AND sync_status != ?
		ORDER BY enqueued_at DESC`,
		projectID, models.StatusCompleted,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list by scope", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListPending returns every non-completed item oldest-first. The drain
// processes items in enqueue order so early captures are never starved.
func (s *PendingStore) ListPending() ([]*models.PendingItem, error) {
	rows, err := s.db.Query(
		"SELECT "+pendingColumns+` FROM pending_items
		WHERE sync_status != ?
		ORDER BY enqueued_at ASC`,
		models.StatusCompleted,
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list pending", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// Count returns the number of non-completed items for a project.
func (s *PendingStore) Count(projectID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pending_items WHERE project_id = ? AND sync_status != ?",
		projectID, models.StatusCompleted,
	).Scan(&n)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "count pending", err)
	}
	return n, nil
}

// Remove hard-deletes an item. Used after confirmed completion or explicit
// user deletion; the store never drops data on its own.
func (s *PendingStore) Remove(localID string) error {
	res, err := s.db.Exec("DELETE FROM pending_items WHERE local_id = ?", localID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "remove pending item", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "pending item %s not found", localID)
	}

	s.notify(Change{Type: ChangeRemoved, LocalID: localID})

	return nil
}

// Subscribe registers a change callback fired on every insert, update, and
// remove. The returned function unsubscribes.
func (s *PendingStore) Subscribe(cb func(Change)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = cb
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// notify fires all subscriptions outside the lock.
func (s *PendingStore) notify(c Change) {
	s.mu.Lock()
	cbs := make([]func(Change), 0, len(s.subs))
	for _, cb := range s.subs {
		cbs = append(cbs, cb)
	}
	s.mu.Unlock()

	for _, cb := range cbs {
		cb(c)
	}
}

// scanner abstracts sql.Row and sql.Rows for scanItem.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*models.PendingItem, error) {
	var item models.PendingItem
	var payloadRef, thumbRef, filename, fields, lastError sql.NullString
	var lastAttemptAt sql.NullInt64
	var meta string

	err := row.Scan(
		&item.LocalID, &item.Scope.ProjectID, &item.Scope.OrgID, &item.Scope.UserID,
		&item.Kind, &payloadRef, &thumbRef, &filename, &fields, &meta,
		&item.SyncStatus, &item.Attempts, &lastError,
		&item.EnqueuedAt, &lastAttemptAt,
	)
	if err != nil {
		return nil, err
	}

	item.PayloadRef = payloadRef.String
	item.ThumbRef = thumbRef.String
	item.Filename = filename.String
	item.LastError = lastError.String
	item.LastAttemptAt = lastAttemptAt.Int64
	if fields.Valid && fields.String != "" {
		item.Fields = json.RawMessage(fields.String)
	}
	if err := json.Unmarshal([]byte(meta), &item.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*models.PendingItem, error) {
	var items []*models.PendingItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan pending item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "iterate pending items", err)
	}
	return items, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableRaw(r json.RawMessage) interface{} {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func nullInt(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}
