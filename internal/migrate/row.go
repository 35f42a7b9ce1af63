// internal/migrate/row.go
package migrate

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MigrateSentinel marks a row for processing. Rows carrying any other value in
// the migrate column are skipped without performing I/O.
const MigrateSentinel = "MIGRATE"

// ContentType identifies the kind of content record a row produces.
type ContentType string

const (
	TypePage ContentType = "page"
	TypePost ContentType = "post"
)

// Row is one logical migration unit, parsed and validated once at ingestion.
// Optional fields stay empty rather than being re-checked at every use site.
type Row struct {
	Migrate       string      `json:"migrate"`
	Type          ContentType `json:"type"`
	OldURL        string      `json:"old_url"`
	NewURL        string      `json:"new_url"`
	ParentURL     string      `json:"parent_url,omitempty"` // pages only
	Categories    []string    `json:"categories,omitempty"` // posts only
	H1            string      `json:"h1"`
	Title         string      `json:"title"`
	MetaTitle     string      `json:"meta_title"`
	FeaturedImage string      `json:"image"`          // "yes", "no", or a direct image URL
	ProcessImages bool        `json:"process_images"` // keep in-body images when true
}

// ParseRow builds a typed Row from a raw record using canonical field keys.
func ParseRow(fields map[string]string) Row {
	row := Row{
		Migrate:       strings.TrimSpace(fields["migrate"]),
		Type:          resolveType(fields["type"]),
		OldURL:        strings.TrimSpace(fields["old_url"]),
		NewURL:        strings.TrimSpace(fields["new_url"]),
		ParentURL:     strings.TrimSpace(fields["parent_url"]),
		H1:            strings.TrimSpace(fields["h1"]),
		Title:         strings.TrimSpace(fields["title"]),
		MetaTitle:     strings.TrimSpace(fields["meta_title"]),
		FeaturedImage: strings.TrimSpace(fields["image"]),
	}

	if cats := strings.TrimSpace(fields["categories"]); cats != "" {
		for _, c := range strings.Split(cats, ",") {
			if c = strings.TrimSpace(c); c != "" {
				row.Categories = append(row.Categories, c)
			}
		}
	}

	switch strings.ToLower(strings.TrimSpace(fields["process_images"])) {
	case "yes", "true", "1":
		row.ProcessImages = true
	}

	return row
}

// Marked reports whether the row carries the migration sentinel.
func (r Row) Marked() bool {
	return r.Migrate == MigrateSentinel
}

// DestinationPath returns the normalized destination path for the row. A row
// with a blank destination but a usable title synthesizes one from the title.
func (r Row) DestinationPath() string {
	path := NormalizePath(r.NewURL)
	if path != "" {
		return path
	}
	if title := r.bestTitle(); title != "" {
		return SlugifyTitle(title)
	}
	return ""
}

func (r Row) bestTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.H1
}

func resolveType(raw string) ContentType {
	if strings.ToLower(strings.TrimSpace(raw)) == string(TypePost) {
		return TypePost
	}
	return TypePage
}

var multiSlash = regexp.MustCompile(`/{2,}`)

// NormalizePath converts a destination URL or path fragment to its canonical
// slash-delimited form: no scheme or host, no duplicated or edge slashes.
// Comparisons against existing content always use this form.
func NormalizePath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	// Strip scheme and host when a full or protocol-relative URL was supplied.
	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "//") {
		if u, err := url.Parse(raw); err == nil && u.Path != "" {
			raw = u.Path
		}
	}

	raw = multiSlash.ReplaceAllString(raw, "/")
	return strings.Trim(raw, "/")
}

// SlugFromPath returns the last segment of a normalized path.
func SlugFromPath(path string) string {
	path = NormalizePath(path)
	if path == "" {
		return ""
	}
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// ParentPath returns the ancestor portion of a normalized path, or "" for a
// top-level path.
func ParentPath(path string) string {
	path = NormalizePath(path)
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[:idx]
	}
	return ""
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// SlugifyTitle derives a URL slug from a human title: lowercase, runs of
// non-alphanumeric characters collapsed to single hyphens.
func SlugifyTitle(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = nonSlug.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

var titleCaser = cases.Title(language.English)

// TitleizeSlug turns a slug back into a presentable title ("about-us" ->
// "About Us"), used as the last-resort title default.
func TitleizeSlug(slug string) string {
	return titleCaser.String(strings.ReplaceAll(slug, "-", " "))
}
