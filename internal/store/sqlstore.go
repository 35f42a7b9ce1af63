// internal/store/sqlstore.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"github.com/valpere/SiteMigrator/internal/migrate"
)

// SQLStore implements migrate.ContentStore on database/sql. Two tables:
// content holds the records, url_mappings holds the normalized source-URL
// variants pointing at them.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore connects to the database and ensures the schema exists.
// Supported drivers: sqlite3, mysql, postgres.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite3", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) initSchema() error {
	var idColumn string
	switch s.driver {
	case "mysql":
		idColumn = "id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	case "postgres":
		idColumn = "id BIGSERIAL PRIMARY KEY"
	default:
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS content (
			` + idColumn + `,
			content_type VARCHAR(10) NOT NULL,
			slug VARCHAR(255) NOT NULL,
			path TEXT NOT NULL,
			parent_id BIGINT NOT NULL DEFAULT 0,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			meta_title TEXT NULL,
			meta_description TEXT NULL,
			featured_image TEXT NULL,
			categories TEXT NULL,
			migrated_from TEXT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'publish',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS url_mappings (
			url_key VARCHAR(512) NOT NULL,
			content_id BIGINT NOT NULL,
			PRIMARY KEY (url_key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_slug ON content (content_type, slug)`,
	}

	for _, stmt := range statements {
		if s.driver == "mysql" && strings.HasPrefix(stmt, "CREATE INDEX IF NOT EXISTS") {
			if _, err := s.db.Exec(strings.Replace(stmt, "IF NOT EXISTS ", "", 1)); err != nil {
				continue
			}
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Find implements migrate.ContentStore. Pages match on the full ancestor
// path, posts on the bare slug.
func (s *SQLStore) Find(ctx context.Context, path string, typ migrate.ContentType) (int64, bool, error) {
	var query string
	var arg string
	if typ == migrate.TypePost {
		query = `SELECT id FROM content WHERE content_type = 'post' AND slug = ? LIMIT 1`
		arg = migrate.SlugFromPath(path)
	} else {
		query = `SELECT id FROM content WHERE content_type = 'page' AND path = ? LIMIT 1`
		arg = path
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(query), arg).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("content lookup for %q: %w", path, err)
	}
	return id, true, nil
}

// FindByMigratedURL implements migrate.ContentStore.
func (s *SQLStore) FindByMigratedURL(ctx context.Context, sourceURL string, typ migrate.ContentType) (int64, bool, error) {
	key := migrate.CanonicalURLKey(sourceURL)
	if key == "" {
		return 0, false, nil
	}

	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT c.id FROM url_mappings m JOIN content c ON c.id = m.content_id
		 WHERE m.url_key = ? AND c.content_type = ? LIMIT 1`),
		key, string(typ)).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("url mapping lookup for %q: %w", sourceURL, err)
	}
	return id, true, nil
}

// Create implements migrate.ContentStore.
func (s *SQLStore) Create(ctx context.Context, p *migrate.Payload) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &migrate.PersistenceError{Op: "create", Path: p.Path, Err: err}
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := `INSERT INTO content (content_type, slug, path, parent_id, title, body,
		 meta_title, meta_description, featured_image, categories, migrated_from,
		 status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{
		string(p.Type), p.Slug, p.Path, p.ParentID, p.Title, p.Body,
		p.MetaTitle, p.MetaDescription, p.FeaturedImage, encodeCategories(p.Categories),
		p.MigratedFrom, p.Status, now, now,
	}

	var id int64
	if s.driver == "postgres" {
		err = tx.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, query, args...)
		if err == nil {
			id, err = res.LastInsertId()
		}
	}
	if err != nil {
		return 0, &migrate.PersistenceError{Op: "create", Path: p.Path, Err: err}
	}

	if err := s.trackURLs(ctx, tx, id, p.MigratedFrom); err != nil {
		return 0, &migrate.PersistenceError{Op: "create", Path: p.Path, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return 0, &migrate.PersistenceError{Op: "create", Path: p.Path, Err: err}
	}
	return id, nil
}

// Update implements migrate.ContentStore.
func (s *SQLStore) Update(ctx context.Context, id int64, p *migrate.Payload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &migrate.PersistenceError{Op: "update", Path: p.Path, Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE content SET content_type = ?, slug = ?, path = ?, parent_id = ?,
		 title = ?, body = ?, meta_title = ?, meta_description = ?, featured_image = ?,
		 categories = ?, migrated_from = ?, status = ?, updated_at = ? WHERE id = ?`),
		string(p.Type), p.Slug, p.Path, p.ParentID, p.Title, p.Body,
		p.MetaTitle, p.MetaDescription, p.FeaturedImage, encodeCategories(p.Categories),
		p.MigratedFrom, p.Status, time.Now().UTC(), id)
	if err != nil {
		return &migrate.PersistenceError{Op: "update", Path: p.Path, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &migrate.PersistenceError{Op: "update", Path: p.Path, Err: fmt.Errorf("record %d not found", id)}
	}

	if err := s.trackURLs(ctx, tx, id, p.MigratedFrom); err != nil {
		return &migrate.PersistenceError{Op: "update", Path: p.Path, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &migrate.PersistenceError{Op: "update", Path: p.Path, Err: err}
	}
	return nil
}

// trackURLs records every normalized variant of the source URL against the
// content id, replacing stale claims from earlier imports.
func (s *SQLStore) trackURLs(ctx context.Context, tx *sql.Tx, id int64, sourceURL string) error {
	variants := migrate.URLVariants(sourceURL)
	if len(variants) == 0 {
		return nil
	}

	var query string
	switch s.driver {
	case "mysql":
		query = `REPLACE INTO url_mappings (url_key, content_id) VALUES (?, ?)`
	case "postgres":
		query = `INSERT INTO url_mappings (url_key, content_id) VALUES (?, ?)
			 ON CONFLICT (url_key) DO UPDATE SET content_id = EXCLUDED.content_id`
	default:
		query = `INSERT OR REPLACE INTO url_mappings (url_key, content_id) VALUES (?, ?)`
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare url mapping insert: %w", err)
	}
	defer stmt.Close()

	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		key := migrate.CanonicalURLKey(v)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, err := stmt.ExecContext(ctx, key, id); err != nil {
			return fmt.Errorf("failed to record url mapping %q: %w", key, err)
		}
	}
	return nil
}

func encodeCategories(categories []string) string {
	if len(categories) == 0 {
		return ""
	}
	data, err := json.Marshal(categories)
	if err != nil {
		return ""
	}
	return string(data)
}
