// internal/batch/types.go

// Package batch implements durable, resumable processing of migration files:
// a batch is one submitted file, its items are the file's rows, and the
// engine works through pending items in fixed-size cycles with retry.
package batch

import "time"

// Batch statuses.
const (
	BatchPending    = "pending"
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchCancelled  = "cancelled"
)

// Item statuses.
const (
	ItemPending    = "pending"
	ItemProcessing = "processing"
	ItemSuccess    = "success"
	ItemSkipped    = "skipped"
	ItemFailed     = "failed"
)

// Batch is one submitted migration file. Aggregate counters are recomputed
// from the items, never incremented in place.
type Batch struct {
	ID             int64      `json:"id"`
	FileName       string     `json:"file_name"`
	FilePath       string     `json:"file_path"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	FailedItems    int        `json:"failed_items"`
	Status         string     `json:"status"`
	AllowOverwrite bool       `json:"allow_overwrite"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Item is one row of a batch. RowData holds the raw field map as JSON so an
// item can be re-processed from storage without the source file.
type Item struct {
	ID           int64      `json:"id"`
	BatchID      int64      `json:"batch_id"`
	RowIndex     int        `json:"row_index"`
	RowData      string     `json:"row_data"`
	Status       string     `json:"status"`
	ContentID    *int64     `json:"content_id,omitempty"`
	Result       string     `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Stats is the per-status item breakdown of one batch, recomputed from the
// items table on every read.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Done reports whether no item is still awaiting work.
func (s Stats) Done() bool {
	return s.Pending == 0 && s.Processing == 0
}

// Total returns the number of items across all statuses.
func (s Stats) Total() int {
	return s.Pending + s.Processing + s.Success + s.Skipped + s.Failed
}

// Processed returns the number of items that reached a terminal status.
func (s Stats) Processed() int {
	return s.Success + s.Skipped + s.Failed
}

// Status is the full picture returned to status queries: the batch record,
// the recomputed stats, and one page of items.
type Status struct {
	Batch *Batch `json:"batch"`
	Stats Stats  `json:"stats"`
	Items []Item `json:"items"`
}
