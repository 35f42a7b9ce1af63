// internal/migrate/duplicate.go
package migrate

import "context"

// DuplicateResolver decides whether a row's destination already holds content.
// Pages are matched on the full ancestor path, posts on the bare slug: two
// pages named "team" under different parents coexist, two posts named "team"
// collide.
type DuplicateResolver struct {
	store ContentStore
}

// NewDuplicateResolver creates a resolver backed by the given content store.
func NewDuplicateResolver(contentStore ContentStore) *DuplicateResolver {
	return &DuplicateResolver{store: contentStore}
}

// FindExisting looks up existing content for a destination path. For posts it
// additionally consults the recorded source-URL mapping, so a re-import whose
// destination slug changed still matches the record migrated from the same
// old URL.
func (d *DuplicateResolver) FindExisting(ctx context.Context, path, oldURL string, typ ContentType) (int64, bool, error) {
	id, found, err := d.store.Find(ctx, path, typ)
	if err != nil || found {
		return id, found, err
	}

	if typ == TypePost && oldURL != "" {
		return d.store.FindByMigratedURL(ctx, oldURL, typ)
	}
	return 0, false, nil
}
