// internal/migrate/processor.go
package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valpere/SiteMigrator/internal/clean"
	"github.com/valpere/SiteMigrator/internal/fetch"
	"github.com/valpere/SiteMigrator/internal/utils"
)

// Fetcher retrieves the raw HTML of a source page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (html string, statusCode int, err error)
}

// ProcessorConfig defines configuration options for the row processor.
type ProcessorConfig struct {
	// BlogPrefix is the leading path segment under which post source URLs
	// carry their category ("blog" matches /blog/travel/my-post).
	BlogPrefix string

	// PublishStatus is assigned to created and updated records.
	PublishStatus string
}

// Processor executes the migration of single rows: duplicate resolution,
// hierarchy resolution, fetch, clean, persist. It is stateless across rows
// and safe for concurrent use.
type Processor struct {
	store      ContentStore
	fetcher    Fetcher
	duplicates *DuplicateResolver
	hierarchy  *HierarchyResolver
	config     ProcessorConfig
	logger     utils.Logger
}

// NewProcessor creates a processor over the given store and fetcher.
func NewProcessor(contentStore ContentStore, fetcher Fetcher, config ProcessorConfig, logger utils.Logger) *Processor {
	if config.BlogPrefix == "" {
		config.BlogPrefix = "blog"
	}
	if config.PublishStatus == "" {
		config.PublishStatus = "publish"
	}
	if logger == nil {
		logger = utils.NewLogger()
	}
	return &Processor{
		store:      contentStore,
		fetcher:    fetcher,
		duplicates: NewDuplicateResolver(contentStore),
		hierarchy:  NewHierarchyResolver(contentStore),
		config:     config,
		logger:     logger,
	}
}

// ProcessRow migrates one row and reports the result as an Outcome. It never
// returns an error and never panics past its boundary: every failure mode,
// including a bug in a downstream component, resolves to a failed Outcome.
func (p *Processor) ProcessRow(ctx context.Context, row Row, allowOverwrite bool) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorf("row processing panicked: %v", r)
			outcome = Outcome{
				Status:  StatusFailed,
				Message: fmt.Sprintf("internal error: %v", r),
			}
		}
	}()

	if !row.Marked() {
		return Outcome{Status: StatusSkipped, Message: "row not marked for migration"}
	}

	path := row.DestinationPath()
	if path == "" {
		return Outcome{Status: StatusFailed, Message: "row has neither a destination URL nor a usable title"}
	}
	slug := SlugFromPath(path)
	if row.Type == TypePost {
		path = slug
	}

	existingID, exists, err := p.duplicates.FindExisting(ctx, path, row.OldURL, row.Type)
	if err != nil {
		return p.failure(path, slug, fmt.Errorf("duplicate check: %w", err))
	}
	if exists && !allowOverwrite {
		p.logger.WithField("path", path).Info("content already exists, skipping")
		return Outcome{
			Status:    StatusSkipped,
			Slug:      slug,
			Path:      path,
			ContentID: existingID,
			Message:   fmt.Sprintf("content already exists at %s", path),
		}
	}

	var parentID int64
	if row.Type == TypePage {
		parentID, err = p.hierarchy.EnsureAncestors(ctx, path, row.ParentURL)
		if err != nil {
			return p.failure(path, slug, err)
		}
	}

	if row.OldURL == "" {
		return Outcome{
			Status:  StatusFailed,
			Slug:    slug,
			Path:    path,
			Message: "row has no source URL to fetch",
		}
	}

	rawHTML, _, err := p.fetcher.Fetch(ctx, row.OldURL)
	if err != nil {
		out := p.failure(path, slug, err)
		out.Transient = fetch.IsTransient(err)
		return out
	}

	extracted, err := clean.Extract(rawHTML, row.OldURL)
	if err != nil {
		return p.failure(path, slug, fmt.Errorf("content extraction: %w", err))
	}

	payload := p.buildPayload(row, path, slug, parentID, extracted)

	if exists {
		if err := p.store.Update(ctx, existingID, payload); err != nil {
			return p.failure(path, slug, err)
		}
		p.logger.WithField("path", path).Info("content updated")
		return Outcome{
			Status:    StatusSuccess,
			Action:    "updated",
			Title:     payload.Title,
			Slug:      slug,
			Path:      path,
			ContentID: existingID,
		}
	}

	id, err := p.store.Create(ctx, payload)
	if err != nil {
		return p.failure(path, slug, err)
	}
	p.logger.WithField("path", path).Info("content created")
	return Outcome{
		Status:    StatusSuccess,
		Action:    "created",
		Title:     payload.Title,
		Slug:      slug,
		Path:      path,
		ContentID: id,
	}
}

// ProcessAll runs every row synchronously in file order and tallies the
// outcomes. Failures do not stop the run.
func (p *Processor) ProcessAll(ctx context.Context, rows []Row, allowOverwrite bool) ([]Outcome, Summary) {
	outcomes := make([]Outcome, 0, len(rows))
	var summary Summary
	for _, row := range rows {
		out := p.ProcessRow(ctx, row, allowOverwrite)
		outcomes = append(outcomes, out)
		summary.Add(out)
	}
	return outcomes, summary
}

func (p *Processor) buildPayload(row Row, path, slug string, parentID int64, extracted *clean.Extracted) *Payload {
	title := firstNonEmpty(row.Title, row.H1, extracted.H1, extracted.Title, TitleizeSlug(slug))
	metaTitle := firstNonEmpty(row.MetaTitle, title)

	body := extracted.Body
	if !row.ProcessImages {
		body = clean.StripImages(body)
	}
	if row.Type == TypePost {
		body = clean.DemoteHeadings(body)
	}

	payload := &Payload{
		Type:            row.Type,
		Slug:            slug,
		Path:            path,
		ParentID:        parentID,
		Title:           title,
		Body:            body,
		MetaTitle:       metaTitle,
		MetaDescription: extracted.MetaDescription,
		FeaturedImage:   p.resolveFeaturedImage(row, extracted),
		MigratedFrom:    row.OldURL,
		Status:          p.config.PublishStatus,
	}
	if row.Type == TypePost {
		payload.Categories = p.resolveCategories(row)
	}
	return payload
}

// resolveFeaturedImage interprets the row's image column: "yes" adopts the
// first image found in the content, a URL is used directly, anything else
// means no featured image.
func (p *Processor) resolveFeaturedImage(row Row, extracted *clean.Extracted) string {
	switch strings.ToLower(row.FeaturedImage) {
	case "", "no", "false":
		return ""
	case "yes", "true":
		return extracted.FirstImage
	default:
		return row.FeaturedImage
	}
}

// resolveCategories returns the row's explicit categories, falling back to
// the source URL's first path segment under the blog prefix
// (/blog/travel/my-post yields "travel").
func (p *Processor) resolveCategories(row Row) []string {
	if len(row.Categories) > 0 {
		return row.Categories
	}

	segments := strings.Split(NormalizePath(row.OldURL), "/")
	if len(segments) >= 3 && segments[0] == p.config.BlogPrefix {
		return []string{TitleizeSlug(segments[1])}
	}
	return nil
}

func (p *Processor) failure(path, slug string, err error) Outcome {
	p.logger.WithField("path", path).Errorf("row failed: %v", err)

	out := Outcome{
		Status:  StatusFailed,
		Slug:    slug,
		Path:    path,
		Message: err.Error(),
	}

	var persistErr *PersistenceError
	if errors.As(err, &persistErr) {
		out.Message = persistErr.Error()
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
