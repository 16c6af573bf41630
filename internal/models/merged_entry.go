package models

import "encoding/json"

// MergedEntry is the UI-facing projection of either a PendingItem or a
// RemoteRecord, normalized to one shape. Entries are derived on every merge
// recomputation and never persisted.
type MergedEntry struct {
	// LocalID is set for pending entries and for remote records that still
	// carry their originating local id.
	LocalID  string          `json:"local_id,omitempty"`
	RemoteID string          `json:"remote_id,omitempty"`
	Kind     ItemKind        `json:"kind"`
	Filename string          `json:"filename,omitempty"`
	URL      string          `json:"url,omitempty"`
	ThumbURL string          `json:"thumb_url,omitempty"`
	Fields   json.RawMessage `json:"fields,omitempty"`
	Metadata ItemMetadata    `json:"metadata"`

	// IsPending flags entries still waiting on sync, for UI badging.
	IsPending  bool       `json:"is_pending"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`

	// SortedAt is the timestamp the entry was ordered by (enqueue time for
	// pending entries, remote creation time for synced ones).
	SortedAt int64 `json:"sorted_at"`
}

// FromPending projects a pending item into a merged entry.
func FromPending(item *PendingItem) MergedEntry {
	return MergedEntry{
		LocalID:    string(item.LocalID),
		Kind:       item.Kind,
		Filename:   item.Filename,
		ThumbURL:   item.ThumbRef,
		Fields:     item.Fields,
		Metadata:   item.Metadata,
		IsPending:  true,
		SyncStatus: item.SyncStatus,
		SortedAt:   item.EnqueuedAt,
	}
}

// FromRemote projects a remote record into a merged entry.
func FromRemote(rec *RemoteRecord) MergedEntry {
	return MergedEntry{
		LocalID:  rec.LocalID,
		RemoteID: rec.ID,
		Kind:     rec.Kind,
		Filename: rec.Filename,
		URL:      rec.URL,
		ThumbURL: rec.ThumbURL,
		Fields:   rec.Fields,
		Metadata: rec.Metadata,
		SortedAt: rec.CreatedAt,
	}
}
