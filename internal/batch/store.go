// internal/batch/store.go
package batch

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"    // SQLite driver
)

// Store is the durable record of batches and their items. Every state
// transition of the engine goes through here so processing survives restarts.
type Store interface {
	// CreateBatch persists the batch and one item per row atomically, setting
	// b.ID and b.TotalItems. No partial batch remains on failure.
	CreateBatch(ctx context.Context, b *Batch, rows []map[string]string) error

	GetBatch(ctx context.Context, id int64) (*Batch, error)
	UpdateBatch(ctx context.Context, b *Batch) error
	ListBatches(ctx context.Context, limit int) ([]Batch, error)

	// ClaimPending atomically marks up to limit pending items of the batch as
	// processing, in row order, and returns them.
	ClaimPending(ctx context.Context, batchID int64, limit int) ([]Item, error)

	GetItem(ctx context.Context, id int64) (*Item, error)
	UpdateItem(ctx context.Context, item *Item) error

	// ResetItem reverts one item to pending with a cleared attempt counter.
	ResetItem(ctx context.Context, id int64) error

	// ResetFailed reverts every failed item of the batch to pending and
	// returns how many were reset.
	ResetFailed(ctx context.Context, batchID int64) (int64, error)

	// ComputeStats recounts the batch's items by status.
	ComputeStats(ctx context.Context, batchID int64) (Stats, error)

	ListItems(ctx context.Context, batchID int64, limit, offset int) ([]Item, error)
}

// SQLStore implements Store on database/sql with driver selection.
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
		// SQLite works best with a single writer
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
		`CREATE TABLE IF NOT EXISTS batches (
			` + idColumn + `,
			file_name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			total_items INTEGER NOT NULL DEFAULT 0,
			processed_items INTEGER NOT NULL DEFAULT 0,
			failed_items INTEGER NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			allow_overwrite INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batch_items (
			` + idColumn + `,
			batch_id BIGINT NOT NULL,
			row_index INTEGER NOT NULL,
			row_data TEXT NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			content_id BIGINT NULL,
			result TEXT NULL,
			error_message TEXT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NULL,
			completed_at TIMESTAMP NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_items_batch ON batch_items (batch_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_items_order ON batch_items (batch_id, row_index)`,
	}

	for _, stmt := range statements {
		if s.driver == "mysql" && strings.HasPrefix(stmt, "CREATE INDEX IF NOT EXISTS") {
			// MySQL has no IF NOT EXISTS for indexes; a duplicate-name error
			// on re-init is harmless.
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

// rebind converts ?-style placeholders to the driver's native form.
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

// CreateBatch implements Store.
func (s *SQLStore) CreateBatch(ctx context.Context, b *Batch, rows []map[string]string) error {
	if len(rows) == 0 {
		return fmt.Errorf("batch has no rows")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	b.Status = BatchPending
	b.TotalItems = len(rows)
	b.CreatedAt = time.Now().UTC()

	batchID, err := s.insert(ctx, tx,
		`INSERT INTO batches (file_name, file_path, total_items, status, allow_overwrite, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.FileName, b.FilePath, b.TotalItems, b.Status, boolToInt(b.AllowOverwrite), b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	b.ID = batchID

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO batch_items (batch_id, row_index, row_data, status, attempts)
		 VALUES (?, ?, ?, ?, 0)`))
	if err != nil {
		return fmt.Errorf("failed to prepare item insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		data, err := encodeRowData(row)
		if err != nil {
			return fmt.Errorf("failed to encode row %d: %w", i+1, err)
		}
		if _, err := stmt.ExecContext(ctx, batchID, i+1, data, ItemPending); err != nil {
			return fmt.Errorf("failed to insert item %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}

// insert runs an INSERT and returns the generated id, handling the postgres
// lack of LastInsertId via RETURNING.
func (s *SQLStore) insert(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (int64, error) {
	if s.driver == "postgres" {
		var id int64
		err := tx.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const batchColumns = `id, file_name, file_path, total_items, processed_items, failed_items,
	status, allow_overwrite, created_at, started_at, completed_at`

// GetBatch implements Store.
func (s *SQLStore) GetBatch(ctx context.Context, id int64) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+batchColumns+` FROM batches WHERE id = ?`), id)
	return scanBatch(row)
}

// UpdateBatch implements Store.
func (s *SQLStore) UpdateBatch(ctx context.Context, b *Batch) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE batches SET total_items = ?, processed_items = ?, failed_items = ?,
		 status = ?, started_at = ?, completed_at = ? WHERE id = ?`),
		b.TotalItems, b.ProcessedItems, b.FailedItems, b.Status,
		nullTime(b.StartedAt), nullTime(b.CompletedAt), b.ID)
	if err != nil {
		return fmt.Errorf("failed to update batch %d: %w", b.ID, err)
	}
	return nil
}

// ListBatches implements Store.
func (s *SQLStore) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+batchColumns+` FROM batches ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

const itemColumns = `id, batch_id, row_index, row_data, status, content_id, result,
	error_message, attempts, started_at, completed_at`

// ClaimPending implements Store.
func (s *SQLStore) ClaimPending(ctx context.Context, batchID int64, limit int) ([]Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, s.rebind(
		`SELECT `+itemColumns+` FROM batch_items
		 WHERE batch_id = ? AND status = ? ORDER BY row_index ASC LIMIT ?`),
		batchID, ItemPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}

	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC()
	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`UPDATE batch_items SET status = ?, started_at = ? WHERE id = ?`))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare claim update: %w", err)
	}
	defer stmt.Close()

	for i := range items {
		if _, err := stmt.ExecContext(ctx, ItemProcessing, now, items[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim item %d: %w", items[i].ID, err)
		}
		items[i].Status = ItemProcessing
		items[i].StartedAt = &now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return items, nil
}

// GetItem implements Store.
func (s *SQLStore) GetItem(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+itemColumns+` FROM batch_items WHERE id = ?`), id)
	return scanItem(row)
}

// UpdateItem implements Store.
func (s *SQLStore) UpdateItem(ctx context.Context, item *Item) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE batch_items SET status = ?, content_id = ?, result = ?, error_message = ?,
		 attempts = ?, started_at = ?, completed_at = ? WHERE id = ?`),
		item.Status, nullInt(item.ContentID), nullString(item.Result),
		nullString(item.ErrorMessage), item.Attempts,
		nullTime(item.StartedAt), nullTime(item.CompletedAt), item.ID)
	if err != nil {
		return fmt.Errorf("failed to update item %d: %w", item.ID, err)
	}
	return nil
}

// ResetItem implements Store.
func (s *SQLStore) ResetItem(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE batch_items SET status = ?, attempts = 0, error_message = NULL,
		 result = NULL, started_at = NULL, completed_at = NULL WHERE id = ?`),
		ItemPending, id)
	if err != nil {
		return fmt.Errorf("failed to reset item %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("item %d not found", id)
	}
	return nil
}

// ResetFailed implements Store.
func (s *SQLStore) ResetFailed(ctx context.Context, batchID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE batch_items SET status = ?, attempts = 0, error_message = NULL,
		 result = NULL, started_at = NULL, completed_at = NULL
		 WHERE batch_id = ? AND status = ?`),
		ItemPending, batchID, ItemFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed items of batch %d: %w", batchID, err)
	}
	return res.RowsAffected()
}

// ComputeStats implements Store.
func (s *SQLStore) ComputeStats(ctx context.Context, batchID int64) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT status, COUNT(*) FROM batch_items WHERE batch_id = ? GROUP BY status`),
		batchID)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to compute stats for batch %d: %w", batchID, err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		switch status {
		case ItemPending:
			stats.Pending = count
		case ItemProcessing:
			stats.Processing = count
		case ItemSuccess:
			stats.Success = count
		case ItemSkipped:
			stats.Skipped = count
		case ItemFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// ListItems implements Store.
func (s *SQLStore) ListItems(ctx context.Context, batchID int64, limit, offset int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+itemColumns+` FROM batch_items
		 WHERE batch_id = ? ORDER BY row_index ASC LIMIT ? OFFSET ?`),
		batchID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list items of batch %d: %w", batchID, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(r rowScanner) (*Batch, error) {
	var b Batch
	var overwrite int
	var started, completed sql.NullTime
	err := r.Scan(&b.ID, &b.FileName, &b.FilePath, &b.TotalItems, &b.ProcessedItems,
		&b.FailedItems, &b.Status, &overwrite, &b.CreatedAt, &started, &completed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("batch not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan batch: %w", err)
	}
	b.AllowOverwrite = overwrite != 0
	if started.Valid {
		b.StartedAt = &started.Time
	}
	if completed.Valid {
		b.CompletedAt = &completed.Time
	}
	return &b, nil
}

func scanItem(r rowScanner) (*Item, error) {
	var item Item
	var contentID sql.NullInt64
	var result, errMsg sql.NullString
	var started, completed sql.NullTime
	err := r.Scan(&item.ID, &item.BatchID, &item.RowIndex, &item.RowData, &item.Status,
		&contentID, &result, &errMsg, &item.Attempts, &started, &completed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}
	if contentID.Valid {
		item.ContentID = &contentID.Int64
	}
	item.Result = result.String
	item.ErrorMessage = errMsg.String
	if started.Valid {
		item.StartedAt = &started.Time
	}
	if completed.Valid {
		item.CompletedAt = &completed.Time
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullInt(i *int64) interface{} {
	if i == nil {
		return nil
	}
	return *i
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
