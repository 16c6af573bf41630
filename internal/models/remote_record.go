package models

import "encoding/json"

// RemoteRecord is the canonical server-side representation created by a
// successful upload: a document in the remote store plus, for photos, a blob
// in the object store reachable at URL. The record carries the originating
// LocalID so the merge view can suppress the matching pending entry even
// before the local row has been removed.
//
// The remote store owns these; the engine only ever writes one via the upsert
// that completes an item.
type RemoteRecord struct {
	ID       string          `json:"id"`
	LocalID  string          `json:"local_id"`
	Scope    Scope           `json:"scope"`
	Kind     ItemKind        `json:"kind"`
	URL      string          `json:"url,omitempty"`
	ThumbURL string          `json:"thumb_url,omitempty"`
	Filename string          `json:"filename,omitempty"`
	Fields   json.RawMessage `json:"fields,omitempty"`
	Metadata ItemMetadata    `json:"metadata"`

	// CreatedAt is set by the remote store, unix milliseconds.
	CreatedAt int64 `json:"created_at"`
}
