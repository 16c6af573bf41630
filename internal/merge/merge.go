// Package merge unifies the local pending queue and the remote record
// subscription into one duplicate-free, ordered list for display.
package merge

import (
	"sync"

	"github.com/fieldops/fieldsync/internal/db"
	"github.com/fieldops/fieldsync/internal/models"
	"github.com/fieldops/fieldsync/internal/remote"
)

// Merged combines pending items and remote records into one list.
//
// It is a pure function: no item appears twice, pending entries precede the
// remote records, and a pending entry whose local id is already tagged on a
// remote record is suppressed. That suppression covers the race where the
// remote subscription observes a new record before the local store has
// processed its own completion.
func Merged(pending []*models.PendingItem, remoteRecs []*models.RemoteRecord) []models.MergedEntry {
	synced := make(map[string]struct{}, len(remoteRecs))
	for _, rec := range remoteRecs {
		if rec.LocalID != "" {
			synced[rec.LocalID] = struct{}{}
		}
	}

	entries := make([]models.MergedEntry, 0, len(pending)+len(remoteRecs))

	// Pending first, newest-first. Callers hand these in display order
	// already (ListByScope orders by enqueued_at descending).
	for _, item := range pending {
		switch item.SyncStatus {
		case models.StatusCompleted:
			continue
		case models.StatusQueued, models.StatusUploading, models.StatusFailed:
			// Still pending; shown unless the remote record beat us.
		}
		if _, done := synced[string(item.LocalID)]; done {
			continue
		}
		entries = append(entries, models.FromPending(item))
	}

	// Remote records keep the subscription's own newest-first ordering.
	for _, rec := range remoteRecs {
		entries = append(entries, models.FromRemote(rec))
	}

	return entries
}

// View maintains a live merged list for one project by subscribing to the
// pending store and the remote record subscription. It owns no data of its
// own; the list is always recomputed from the two sources.
type View struct {
	projectID string
	store     *db.PendingStore

	mu      sync.Mutex
	pending []*models.PendingItem
	remote  []*models.RemoteRecord
	current []models.MergedEntry
	subs    map[int]func([]models.MergedEntry)
	nextSub int

	unsubStore  func()
	unsubRemote func()
	closed      bool
}

// NewView builds a View and starts both subscriptions. The initial pending
// list is loaded immediately; the first remote snapshot arrives through the
// subscription.
func NewView(projectID string, store *db.PendingStore, docs remote.DocumentStore) (*View, error) {
	v := &View{
		projectID: projectID,
		store:     store,
		subs:      make(map[int]func([]models.MergedEntry)),
	}

	pending, err := store.ListByScope(projectID)
	if err != nil {
		return nil, err
	}
	v.pending = pending
	v.recompute()

	v.unsubStore = store.Subscribe(func(c db.Change) {
		if c.ProjectID != "" && c.ProjectID != projectID {
			return
		}
		items, err := store.ListByScope(projectID)
		if err != nil {
			return
		}
		v.mu.Lock()
		v.pending = items
		v.mu.Unlock()
		v.recompute()
	})

	v.unsubRemote, err = docs.Subscribe(projectID, func(recs []*models.RemoteRecord) {
		v.mu.Lock()
		v.remote = recs
		v.mu.Unlock()
		v.recompute()
	})
	if err != nil {
		v.unsubStore()
		return nil, err
	}

	return v, nil
}

// Current returns the latest merged list.
func (v *View) Current() []models.MergedEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Subscribe registers cb to receive every recomputed list. The returned
// function unsubscribes.
func (v *View) Subscribe(cb func([]models.MergedEntry)) func() {
	v.mu.Lock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = cb
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

// Close cancels both subscriptions.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.unsubStore()
	v.unsubRemote()
}

func (v *View) recompute() {
	v.mu.Lock()
	v.current = Merged(v.pending, v.remote)
	merged := v.current
	cbs := make([]func([]models.MergedEntry), 0, len(v.subs))
	for _, cb := range v.subs {
		cbs = append(cbs, cb)
	}
	v.mu.Unlock()

	for _, cb := range cbs {
		cb(merged)
	}
}
