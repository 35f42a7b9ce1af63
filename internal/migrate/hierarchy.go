// internal/migrate/hierarchy.go
package migrate

import (
	"context"
	"fmt"
	"strings"
)

// HierarchyResolver materializes the ancestor chain of a page path. Ancestors
// that do not exist yet are created as minimal placeholder pages, parent
// first, so a child row can land before its parent's own row is processed.
// When the parent row arrives later it matches the placeholder as existing
// content and, with overwrite enabled, fills it in.
type HierarchyResolver struct {
	store ContentStore
}

// NewHierarchyResolver creates a resolver backed by the given content store.
func NewHierarchyResolver(contentStore ContentStore) *HierarchyResolver {
	return &HierarchyResolver{store: contentStore}
}

// EnsureAncestors walks the ancestor segments of path top-down and returns
// the id of the immediate parent, or 0 for a top-level path. parentHint, when
// non-empty, overrides the path-derived ancestry (the row named an explicit
// parent URL).
func (h *HierarchyResolver) EnsureAncestors(ctx context.Context, path, parentHint string) (int64, error) {
	ancestry := ParentPath(path)
	if hint := NormalizePath(parentHint); hint != "" {
		ancestry = hint
	}
	if ancestry == "" {
		return 0, nil
	}

	var parentID int64
	var walked []string
	for _, segment := range strings.Split(ancestry, "/") {
		walked = append(walked, segment)
		current := strings.Join(walked, "/")

		id, found, err := h.store.Find(ctx, current, TypePage)
		if err != nil {
			return 0, fmt.Errorf("ancestor lookup for %q: %w", current, err)
		}
		if !found {
			id, err = h.store.Create(ctx, &Payload{
				Type:     TypePage,
				Slug:     segment,
				Path:     current,
				ParentID: parentID,
				Title:    TitleizeSlug(segment),
				Status:   "publish",
			})
			if err != nil {
				return 0, fmt.Errorf("placeholder creation for %q: %w", current, err)
			}
		}
		parentID = id
	}
	return parentID, nil
}
