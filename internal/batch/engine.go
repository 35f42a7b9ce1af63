// internal/batch/engine.go
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/valpere/SiteMigrator/internal/migrate"
	"github.com/valpere/SiteMigrator/internal/monitoring"
	"github.com/valpere/SiteMigrator/internal/utils"
)

const (
	// CycleSize is the number of items processed per cycle.
	CycleSize = 25

	// CycleDelay separates consecutive cycles of one batch.
	CycleDelay = 60 * time.Second

	// MaxAttempts is the retry ceiling per item. An item whose transient
	// failure count reaches it stays failed.
	MaxAttempts = 3
)

// RowProcessor migrates a single row. Satisfied by migrate.Processor.
type RowProcessor interface {
	ProcessRow(ctx context.Context, row migrate.Row, allowOverwrite bool) migrate.Outcome
}

// Engine drives batches through their lifecycle: creation, cycle-by-cycle
// processing with delays between cycles, retry of transient failures up to
// the attempt ceiling, and cancellation. All state lives in the Store, so a
// restarted engine resumes wherever the previous one stopped.
type Engine struct {
	store     Store
	processor RowProcessor
	scheduler Scheduler
	metrics   *monitoring.Metrics
	logger    utils.Logger
}

// NewEngine creates an engine. metrics may be nil when monitoring is not
// wired up (the synchronous CLI path).
func NewEngine(store Store, processor RowProcessor, scheduler Scheduler, metrics *monitoring.Metrics, logger utils.Logger) *Engine {
	if logger == nil {
		logger = utils.NewLogger()
	}
	return &Engine{
		store:     store,
		processor: processor,
		scheduler: scheduler,
		metrics:   metrics,
		logger:    logger,
	}
}

// CreateBatch persists a new batch with one pending item per row and
// schedules its first cycle immediately. Nothing is persisted when the row
// set is empty.
func (e *Engine) CreateBatch(ctx context.Context, fileName, filePath string, rows []map[string]string, allowOverwrite bool) (*Batch, error) {
	b := &Batch{
		FileName:       fileName,
		FilePath:       filePath,
		AllowOverwrite: allowOverwrite,
	}
	if err := e.store.CreateBatch(ctx, b, rows); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	e.logger.WithFields(map[string]interface{}{
		"batch_id": b.ID,
		"items":    b.TotalItems,
	}).Info("batch created")

	e.scheduleCycle(b.ID, 0)
	return b, nil
}

// ProcessNextCycle claims and processes up to CycleSize pending items of the
// batch in row order, refreshes the aggregate counters, and either schedules
// the next cycle or finalizes the batch. Cancelled batches are left alone.
func (e *Engine) ProcessNextCycle(ctx context.Context, batchID int64) error {
	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status == BatchCancelled {
		e.logger.WithField("batch_id", batchID).Info("batch cancelled, stopping")
		return nil
	}

	if b.Status == BatchPending {
		now := time.Now().UTC()
		b.Status = BatchProcessing
		b.StartedAt = &now
		if err := e.store.UpdateBatch(ctx, b); err != nil {
			return err
		}
	}

	items, err := e.store.ClaimPending(ctx, batchID, CycleSize)
	if err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.CyclesTotal.Inc()
	}

	for i := range items {
		if err := e.ProcessItem(ctx, &items[i], b.AllowOverwrite); err != nil {
			// Item state update failed; the item stays processing and is
			// picked up again after an operator retry. Keep going.
			e.logger.Errorf("failed to record item %d: %v", items[i].ID, err)
		}
		// Re-check cancellation between items so a cancel takes effect
		// mid-cycle; items already finished keep their results.
		if current, err := e.store.GetBatch(ctx, batchID); err == nil && current.Status == BatchCancelled {
			e.logger.WithField("batch_id", batchID).Info("batch cancelled mid-cycle")
			return e.refreshCounters(ctx, batchID, false)
		}
	}

	return e.refreshCounters(ctx, batchID, true)
}

// ProcessItem runs one claimed item through the row processor and records
// the result. A transient failure below the attempt ceiling reverts the item
// to pending so a later cycle retries it.
func (e *Engine) ProcessItem(ctx context.Context, item *Item, allowOverwrite bool) error {
	fields, err := decodeRowData(item.RowData)
	if err != nil {
		now := time.Now().UTC()
		item.Status = ItemFailed
		item.ErrorMessage = fmt.Sprintf("corrupt row data: %v", err)
		item.CompletedAt = &now
		return e.store.UpdateItem(ctx, item)
	}

	item.Attempts++
	row := migrate.ParseRow(fields)
	start := time.Now()
	outcome := e.processor.ProcessRow(ctx, row, allowOverwrite)

	if e.metrics != nil {
		e.metrics.RowDuration.Observe(time.Since(start).Seconds())
		e.metrics.RowsProcessed.WithLabelValues(string(outcome.Status)).Inc()
	}

	now := time.Now().UTC()
	switch outcome.Status {
	case migrate.StatusSuccess:
		item.Status = ItemSuccess
		item.ContentID = &outcome.ContentID
		item.ErrorMessage = ""
		item.CompletedAt = &now
	case migrate.StatusSkipped:
		item.Status = ItemSkipped
		item.ErrorMessage = ""
		item.CompletedAt = &now
		if outcome.ContentID != 0 {
			item.ContentID = &outcome.ContentID
		}
	default:
		if outcome.Transient && item.Attempts < MaxAttempts {
			item.Status = ItemPending
			item.ErrorMessage = outcome.Message
			item.CompletedAt = nil
		} else {
			item.Status = ItemFailed
			item.ErrorMessage = outcome.Message
			item.CompletedAt = &now
		}
	}

	if result, err := json.Marshal(outcome); err == nil {
		item.Result = string(result)
	}
	return e.store.UpdateItem(ctx, item)
}

// RetryItem reverts one item to pending and wakes its batch. Items of a
// cancelled batch cannot be retried; cancellation is final.
func (e *Engine) RetryItem(ctx context.Context, itemID int64) error {
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	b, err := e.store.GetBatch(ctx, item.BatchID)
	if err != nil {
		return err
	}
	if b.Status == BatchCancelled {
		return fmt.Errorf("batch %d is cancelled", b.ID)
	}
	if err := e.store.ResetItem(ctx, itemID); err != nil {
		return err
	}
	return e.resume(ctx, item.BatchID)
}

// RetryBatch reverts every failed item of the batch to pending and resumes
// processing. It reports how many items were queued again. Cancelled batches
// cannot be retried.
func (e *Engine) RetryBatch(ctx context.Context, batchID int64) (int64, error) {
	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if b.Status == BatchCancelled {
		return 0, fmt.Errorf("batch %d is cancelled", batchID)
	}
	n, err := e.store.ResetFailed(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, e.resume(ctx, batchID)
}

// CancelBatch marks the batch cancelled. In-flight items finish their
// current work; nothing new is claimed afterwards.
func (e *Engine) CancelBatch(ctx context.Context, batchID int64) error {
	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status == BatchCompleted || b.Status == BatchCancelled {
		return fmt.Errorf("batch %d is already %s", batchID, b.Status)
	}

	now := time.Now().UTC()
	b.Status = BatchCancelled
	b.CompletedAt = &now
	if err := e.store.UpdateBatch(ctx, b); err != nil {
		return err
	}
	e.logger.WithField("batch_id", batchID).Info("batch cancelled")
	return nil
}

// GetStatus returns the batch, its recomputed stats, and one page of items.
func (e *Engine) GetStatus(ctx context.Context, batchID int64, limit, offset int) (*Status, error) {
	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	stats, err := e.store.ComputeStats(ctx, batchID)
	if err != nil {
		return nil, err
	}
	items, err := e.store.ListItems(ctx, batchID, limit, offset)
	if err != nil {
		return nil, err
	}
	return &Status{Batch: b, Stats: stats, Items: items}, nil
}

// Resume schedules processing cycles for every batch left pending or
// processing by a previous run. Called once at startup.
func (e *Engine) Resume(ctx context.Context) error {
	batches, err := e.store.ListBatches(ctx, 100)
	if err != nil {
		return err
	}
	for _, b := range batches {
		if b.Status == BatchPending || b.Status == BatchProcessing {
			e.logger.WithField("batch_id", b.ID).Info("resuming batch")
			e.scheduleCycle(b.ID, 0)
		}
	}
	return nil
}

// resume promotes the batch back to processing and schedules a cycle.
// Cancellation is terminal: a cancelled batch is never promoted.
func (e *Engine) resume(ctx context.Context, batchID int64) error {
	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if b.Status == BatchCancelled {
		return fmt.Errorf("batch %d is cancelled", batchID)
	}
	if b.Status != BatchProcessing {
		b.Status = BatchProcessing
		b.CompletedAt = nil
		if err := e.store.UpdateBatch(ctx, b); err != nil {
			return err
		}
	}
	e.scheduleCycle(batchID, 0)
	return nil
}

// refreshCounters recomputes the batch's aggregate counters from its items
// and, when scheduleNext is set, queues the next cycle or finalizes.
func (e *Engine) refreshCounters(ctx context.Context, batchID int64, scheduleNext bool) error {
	b, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	stats, err := e.store.ComputeStats(ctx, batchID)
	if err != nil {
		return err
	}

	b.ProcessedItems = stats.Processed()
	b.FailedItems = stats.Failed

	if b.Status == BatchProcessing && stats.Done() {
		now := time.Now().UTC()
		b.Status = BatchCompleted
		b.CompletedAt = &now
		e.logger.WithFields(map[string]interface{}{
			"batch_id": batchID,
			"success":  stats.Success,
			"skipped":  stats.Skipped,
			"failed":   stats.Failed,
		}).Info("batch completed")
	}

	if err := e.store.UpdateBatch(ctx, b); err != nil {
		return err
	}

	if scheduleNext && b.Status == BatchProcessing && stats.Pending > 0 {
		e.scheduleCycle(batchID, CycleDelay)
	}
	return nil
}

func (e *Engine) scheduleCycle(batchID int64, delay time.Duration) {
	e.scheduler.Schedule(func() {
		if err := e.ProcessNextCycle(context.Background(), batchID); err != nil {
			e.logger.Errorf("cycle for batch %d failed: %v", batchID, err)
		}
	}, delay)
}

func encodeRowData(fields map[string]string) (string, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeRowData(data string) (map[string]string, error) {
	fields := make(map[string]string)
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
