// Package remote defines the engine's ports to the remote stores and
// provides the production adapters.
//
// Both stores are external collaborators: the engine assumes an object store
// with overwrite-by-path semantics and a document store whose writes can
// carry the originating local id, and specifies nothing else about them.
package remote

import (
	"context"

	"github.com/fieldops/fieldsync/internal/models"
)

// ObjectStore accepts binary uploads at caller-chosen keys.
//
// Upload must overwrite on key collision; the orchestrator derives keys from
// scope plus local id so a retried upload replaces its own partial
// predecessor instead of duplicating it.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	Delete(ctx context.Context, key string) error
}

// DocumentStore holds the canonical records created by completed uploads.
type DocumentStore interface {
	// Upsert writes a record keyed by its originating local id. Repeating
	// the call with the same local id must replace, never duplicate.
	Upsert(ctx context.Context, rec *models.RemoteRecord) error

	// ListByProject returns the project's records newest-first.
	ListByProject(ctx context.Context, projectID string) ([]*models.RemoteRecord, error)

	// Subscribe delivers ordered record snapshots for a project as they
	// change. The returned function cancels the subscription.
	Subscribe(projectID string, cb func([]*models.RemoteRecord)) (func(), error)
}
