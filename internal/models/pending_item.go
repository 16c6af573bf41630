package models

import "encoding/json"

// ItemKind discriminates the payload shape of a pending item.
// One queue, tagged-union items.
type ItemKind string

const (
	KindPhoto      ItemKind = "photo"
	KindTaskStatus ItemKind = "task_status"
	KindDailyLog   ItemKind = "daily_log"
)

// IsValid reports whether the kind is one of the known variants.
func (k ItemKind) IsValid() bool {
	switch k {
	case KindPhoto, KindTaskStatus, KindDailyLog:
		return true
	}
	return false
}

// SyncStatus is the device-local lifecycle state of a pending item.
// It is a closed set; every consumer switches exhaustively so a new
// status cannot be silently ignored.
type SyncStatus string

const (
	StatusQueued    SyncStatus = "queued"
	StatusUploading SyncStatus = "uploading"
	StatusFailed    SyncStatus = "failed"
	StatusCompleted SyncStatus = "completed"
)

// IsValid reports whether the status is one of the known variants.
func (s SyncStatus) IsValid() bool {
	switch s {
	case StatusQueued, StatusUploading, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether the status requires no further orchestrator work.
func (s SyncStatus) Terminal() bool {
	return s == StatusCompleted
}

// ItemMetadata carries capture-time metadata for a pending item.
type ItemMetadata struct {
	CapturedAt int64    `json:"captured_at"` // unix milliseconds
	Latitude   *float64 `json:"lat,omitempty"`
	Longitude  *float64 `json:"lng,omitempty"`
	Caption    string   `json:"caption,omitempty"`
	PhaseID    string   `json:"phase_id,omitempty"`
	TaskID     string   `json:"task_id,omitempty"`
}

// PendingItem is a locally queued, not-yet-confirmed-synced unit of field data.
//
// LocalID is client-generated, immutable, and unique on the device; it is the
// idempotency key for the whole item lifecycle. Photo bytes live in the blob
// arena behind PayloadRef/ThumbRef so list queries stay cheap; structured
// kinds carry their field changes in Fields.
type PendingItem struct {
	LocalID    UUID            `db:"local_id" json:"local_id"`
	Scope      Scope           `json:"scope"`
	Kind       ItemKind        `db:"kind" json:"kind"`
	PayloadRef string          `db:"payload_ref" json:"payload_ref,omitempty"`
	ThumbRef   string          `db:"thumb_ref" json:"thumb_ref,omitempty"`
	Filename   string          `db:"filename" json:"filename,omitempty"`
	Fields     json.RawMessage `db:"fields" json:"fields,omitempty"`
	Metadata   ItemMetadata    `json:"metadata"`
	SyncStatus SyncStatus      `db:"sync_status" json:"sync_status"`
	Attempts   int             `db:"attempts" json:"attempts"`
	LastError  string          `db:"last_error" json:"last_error,omitempty"`

	// EnqueuedAt and LastAttemptAt are unix milliseconds.
	EnqueuedAt    int64 `db:"enqueued_at" json:"enqueued_at"`
	LastAttemptAt int64 `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
}
