// internal/migrate/contentstore.go
package migrate

import (
	"context"
	"fmt"
)

// Payload carries everything needed to create or update one content record.
// The migration pipeline only requests creation and update; record lifecycle
// beyond publishing is owned by the backing system.
type Payload struct {
	Type            ContentType `json:"type"`
	Slug            string      `json:"slug"`
	Path            string      `json:"path"` // full ancestor path for pages, slug for posts
	ParentID        int64       `json:"parent_id,omitempty"`
	Title           string      `json:"title"`
	Body            string      `json:"body"`
	MetaTitle       string      `json:"meta_title,omitempty"`
	MetaDescription string      `json:"meta_description,omitempty"`
	FeaturedImage   string      `json:"featured_image,omitempty"`
	Categories      []string    `json:"categories,omitempty"`
	MigratedFrom    string      `json:"migrated_from,omitempty"` // source URL, recorded for re-import matching
	Status          string      `json:"status"`
}

// ContentStore is the abstract persistence layer for hierarchical documents
// and articles. Pages are addressed by their full ancestor path; posts live in
// a flat slug namespace.
type ContentStore interface {
	// Find looks up a record at the exact normalized path (pages) or slug
	// (posts). found is false when nothing exists there.
	Find(ctx context.Context, path string, typ ContentType) (id int64, found bool, err error)

	// FindByMigratedURL looks up a record by the source URL it was migrated
	// from, using the normalized variant set recorded at creation time.
	FindByMigratedURL(ctx context.Context, sourceURL string, typ ContentType) (id int64, found bool, err error)

	// Create persists a new record and returns its id.
	Create(ctx context.Context, p *Payload) (int64, error)

	// Update overwrites an existing record in place.
	Update(ctx context.Context, id int64, p *Payload) error
}

// PersistenceError reports a create or update the store rejected. It is
// terminal for the row being processed: validation and constraint failures do
// not heal on retry.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("content store %s failed for %q: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
