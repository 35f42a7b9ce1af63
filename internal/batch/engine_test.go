// internal/batch/engine_test.go
package batch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/valpere/SiteMigrator/internal/migrate"
	"github.com/valpere/SiteMigrator/internal/monitoring"
)

// fakeScheduler queues tasks for manual, synchronous execution.
type fakeScheduler struct {
	tasks  []Task
	delays []time.Duration
}

func (s *fakeScheduler) Schedule(task Task, delay time.Duration) {
	s.tasks = append(s.tasks, task)
	s.delays = append(s.delays, delay)
}

// runNext executes the oldest queued task. Returns false when none is queued.
func (s *fakeScheduler) runNext() bool {
	if len(s.tasks) == 0 {
		return false
	}
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	s.delays = s.delays[1:]
	task()
	return true
}

// scriptedProcessor returns outcomes keyed by the row's old_url, defaulting
// to a created success.
type scriptedProcessor struct {
	outcomes map[string]migrate.Outcome
	calls    []string
}

func (p *scriptedProcessor) ProcessRow(ctx context.Context, row migrate.Row, allowOverwrite bool) migrate.Outcome {
	p.calls = append(p.calls, row.OldURL)
	if out, ok := p.outcomes[row.OldURL]; ok {
		return out
	}
	return migrate.Outcome{Status: migrate.StatusSuccess, Action: "created", ContentID: int64(len(p.calls))}
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore, *fakeScheduler, *scriptedProcessor) {
	t.Helper()
	store := NewMemoryStore()
	scheduler := &fakeScheduler{}
	processor := &scriptedProcessor{outcomes: make(map[string]migrate.Outcome)}
	engine := NewEngine(store, processor, scheduler, nil, nil)
	return engine, store, scheduler, processor
}

func testRows(n int) []map[string]string {
	rows := make([]map[string]string, n)
	for i := range rows {
		rows[i] = map[string]string{
			"migrate": "MIGRATE",
			"old_url": fmt.Sprintf("https://old.example.com/page-%d/", i+1),
			"new_url": fmt.Sprintf("https://new.example.com/page-%d/", i+1),
		}
	}
	return rows
}

func TestCreateBatchRejectsEmptyRows(t *testing.T) {
	engine, _, scheduler, _ := newTestEngine(t)

	if _, err := engine.CreateBatch(context.Background(), "empty.csv", "/tmp/empty.csv", nil, false); err == nil {
		t.Fatal("expected error for empty row set")
	}
	if len(scheduler.tasks) != 0 {
		t.Error("empty batch scheduled a cycle")
	}
}

func TestBatchRunsInCycles(t *testing.T) {
	engine, store, scheduler, processor := newTestEngine(t)
	ctx := context.Background()

	b, err := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", testRows(30), false)
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	if b.TotalItems != 30 || b.Status != BatchPending {
		t.Fatalf("unexpected batch: %+v", b)
	}

	// first cycle: 25 items in row order
	if !scheduler.runNext() {
		t.Fatal("first cycle not scheduled")
	}
	if len(processor.calls) != CycleSize {
		t.Fatalf("first cycle processed %d items, want %d", len(processor.calls), CycleSize)
	}
	if processor.calls[0] != "https://old.example.com/page-1/" {
		t.Errorf("processing did not start at row 1: %s", processor.calls[0])
	}

	current, _ := store.GetBatch(ctx, b.ID)
	if current.Status != BatchProcessing || current.ProcessedItems != 25 {
		t.Fatalf("after first cycle: %+v", current)
	}

	// next cycle was queued with the standard delay
	if len(scheduler.delays) != 1 || scheduler.delays[0] != CycleDelay {
		t.Fatalf("next cycle delay = %v, want %v", scheduler.delays, CycleDelay)
	}

	// second cycle drains the rest and completes the batch
	scheduler.runNext()
	if len(processor.calls) != 30 {
		t.Fatalf("processed %d items total, want 30", len(processor.calls))
	}

	current, _ = store.GetBatch(ctx, b.ID)
	if current.Status != BatchCompleted {
		t.Errorf("batch status = %s, want completed", current.Status)
	}
	if current.ProcessedItems != 30 || current.FailedItems != 0 {
		t.Errorf("counters: %+v", current)
	}
	if current.CompletedAt == nil {
		t.Error("completed batch has no completion time")
	}
	if len(scheduler.tasks) != 0 {
		t.Error("completed batch scheduled another cycle")
	}
}

func TestTransientFailureRetriesUpToCeiling(t *testing.T) {
	engine, store, scheduler, processor := newTestEngine(t)
	ctx := context.Background()

	rows := testRows(1)
	processor.outcomes[rows[0]["old_url"]] = migrate.Outcome{
		Status:    migrate.StatusFailed,
		Message:   "connection refused",
		Transient: true,
	}

	b, _ := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", rows, false)

	for cycle := 1; cycle <= MaxAttempts; cycle++ {
		if !scheduler.runNext() {
			t.Fatalf("cycle %d not scheduled", cycle)
		}
		items, _ := store.ListItems(ctx, b.ID, 10, 0)
		item := items[0]
		if item.Attempts != cycle {
			t.Fatalf("cycle %d: attempts = %d", cycle, item.Attempts)
		}
		if cycle < MaxAttempts {
			if item.Status != ItemPending {
				t.Fatalf("cycle %d: status = %s, want pending", cycle, item.Status)
			}
		} else {
			if item.Status != ItemFailed {
				t.Fatalf("final cycle: status = %s, want failed", item.Status)
			}
			if item.ErrorMessage != "connection refused" {
				t.Errorf("error message = %q", item.ErrorMessage)
			}
		}
	}

	current, _ := store.GetBatch(ctx, b.ID)
	if current.Status != BatchCompleted || current.FailedItems != 1 {
		t.Errorf("after retries: %+v", current)
	}
	if len(scheduler.tasks) != 0 {
		t.Error("exhausted batch scheduled another cycle")
	}
}

func TestTerminalFailureIsNotRetried(t *testing.T) {
	engine, store, scheduler, processor := newTestEngine(t)
	ctx := context.Background()

	rows := testRows(1)
	processor.outcomes[rows[0]["old_url"]] = migrate.Outcome{
		Status:  migrate.StatusFailed,
		Message: "store rejected the record",
	}

	b, _ := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", rows, false)
	scheduler.runNext()

	items, _ := store.ListItems(ctx, b.ID, 10, 0)
	if items[0].Status != ItemFailed || items[0].Attempts != 1 {
		t.Fatalf("item after terminal failure: %+v", items[0])
	}
	current, _ := store.GetBatch(ctx, b.ID)
	if current.Status != BatchCompleted {
		t.Errorf("batch status = %s", current.Status)
	}
}

func TestSkippedOutcome(t *testing.T) {
	engine, store, scheduler, processor := newTestEngine(t)
	ctx := context.Background()

	rows := testRows(1)
	processor.outcomes[rows[0]["old_url"]] = migrate.Outcome{
		Status:  migrate.StatusSkipped,
		Message: "content already exists at destination",
	}

	b, _ := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", rows, false)
	scheduler.runNext()

	items, _ := store.ListItems(ctx, b.ID, 10, 0)
	if items[0].Status != ItemSkipped {
		t.Fatalf("item status = %s, want skipped", items[0].Status)
	}
	stats, _ := store.ComputeStats(ctx, b.ID)
	if stats.Skipped != 1 || !stats.Done() {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCancelBatchStopsProcessing(t *testing.T) {
	engine, store, scheduler, processor := newTestEngine(t)
	ctx := context.Background()

	b, _ := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", testRows(5), false)

	if err := engine.CancelBatch(ctx, b.ID); err != nil {
		t.Fatalf("CancelBatch failed: %v", err)
	}

	// the already-scheduled first cycle must be a no-op
	scheduler.runNext()
	if len(processor.calls) != 0 {
		t.Errorf("cancelled batch processed %d items", len(processor.calls))
	}

	current, _ := store.GetBatch(ctx, b.ID)
	if current.Status != BatchCancelled {
		t.Errorf("status = %s", current.Status)
	}
	stats, _ := store.ComputeStats(ctx, b.ID)
	if stats.Pending != 5 {
		t.Errorf("cancelled batch touched its items: %+v", stats)
	}

	// cancelling again is an error
	if err := engine.CancelBatch(ctx, b.ID); err == nil {
		t.Error("expected error when cancelling a cancelled batch")
	}
}

func TestCancelledBatchCannotBeRetried(t *testing.T) {
	engine, store, scheduler, processor := newTestEngine(t)
	ctx := context.Background()

	b, _ := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", testRows(2), false)
	if err := engine.CancelBatch(ctx, b.ID); err != nil {
		t.Fatalf("CancelBatch failed: %v", err)
	}

	items, _ := store.ListItems(ctx, b.ID, 10, 0)
	if err := engine.RetryItem(ctx, items[0].ID); err == nil {
		t.Fatal("RetryItem on a cancelled batch must fail")
	}
	if _, err := engine.RetryBatch(ctx, b.ID); err == nil {
		t.Fatal("RetryBatch on a cancelled batch must fail")
	}

	// drain anything queued; none of it may process items
	for scheduler.runNext() {
	}
	if len(processor.calls) != 0 {
		t.Errorf("cancelled batch processed %d items", len(processor.calls))
	}

	current, _ := store.GetBatch(ctx, b.ID)
	if current.Status != BatchCancelled {
		t.Errorf("status = %s, want cancelled", current.Status)
	}
	if current.CompletedAt == nil {
		t.Error("cancellation time was cleared")
	}
	stats, _ := store.ComputeStats(ctx, b.ID)
	if stats.Pending != 2 {
		t.Errorf("retry touched items of a cancelled batch: %+v", stats)
	}
}

func TestRetryBatchResetsFailedItems(t *testing.T) {
	engine, store, scheduler, processor := newTestEngine(t)
	ctx := context.Background()

	rows := testRows(2)
	processor.outcomes[rows[1]["old_url"]] = migrate.Outcome{
		Status:  migrate.StatusFailed,
		Message: "HTTP 404",
	}

	b, _ := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", rows, false)
	scheduler.runNext()

	current, _ := store.GetBatch(ctx, b.ID)
	if current.Status != BatchCompleted || current.FailedItems != 1 {
		t.Fatalf("setup failed: %+v", current)
	}

	n, err := engine.RetryBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("RetryBatch failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset %d items, want 1", n)
	}

	current, _ = store.GetBatch(ctx, b.ID)
	if current.Status != BatchProcessing {
		t.Errorf("batch not resumed: %s", current.Status)
	}

	items, _ := store.ListItems(ctx, b.ID, 10, 0)
	if items[1].Status != ItemPending || items[1].Attempts != 0 || items[1].ErrorMessage != "" {
		t.Errorf("failed item not reset: %+v", items[1])
	}
	if items[0].Status != ItemSuccess {
		t.Errorf("successful item was touched: %+v", items[0])
	}

	// fix the flaky row and let the retry cycle run
	delete(processor.outcomes, rows[1]["old_url"])
	scheduler.runNext()

	current, _ = store.GetBatch(ctx, b.ID)
	if current.Status != BatchCompleted || current.FailedItems != 0 {
		t.Errorf("after retry cycle: %+v", current)
	}
}

func TestRetryBatchWithNothingToRetry(t *testing.T) {
	engine, _, scheduler, _ := newTestEngine(t)
	ctx := context.Background()

	b, _ := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", testRows(1), false)
	scheduler.runNext()

	n, err := engine.RetryBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("RetryBatch failed: %v", err)
	}
	if n != 0 {
		t.Errorf("reset %d items, want 0", n)
	}
	if len(scheduler.tasks) != 0 {
		t.Error("no-op retry scheduled a cycle")
	}
}

func TestRetryItem(t *testing.T) {
	engine, store, scheduler, processor := newTestEngine(t)
	ctx := context.Background()

	rows := testRows(1)
	processor.outcomes[rows[0]["old_url"]] = migrate.Outcome{Status: migrate.StatusFailed, Message: "HTTP 404"}

	b, _ := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", rows, false)
	scheduler.runNext()

	items, _ := store.ListItems(ctx, b.ID, 10, 0)
	if err := engine.RetryItem(ctx, items[0].ID); err != nil {
		t.Fatalf("RetryItem failed: %v", err)
	}

	item, _ := store.GetItem(ctx, items[0].ID)
	if item.Status != ItemPending || item.Attempts != 0 {
		t.Errorf("item not reset: %+v", item)
	}
	current, _ := store.GetBatch(ctx, b.ID)
	if current.Status != BatchProcessing {
		t.Errorf("batch not resumed: %s", current.Status)
	}
}

func TestProcessingExportsMetrics(t *testing.T) {
	store := NewMemoryStore()
	scheduler := &fakeScheduler{}
	processor := &scriptedProcessor{outcomes: make(map[string]migrate.Outcome)}
	metrics := monitoring.NewMetrics()
	engine := NewEngine(store, processor, scheduler, metrics, nil)
	ctx := context.Background()

	if _, err := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", testRows(2), false); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	scheduler.runNext()

	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := recorder.Body.String()

	if !strings.Contains(body, `sitemigrator_rows_processed_total{status="success"} 2`) {
		t.Error("row outcome counter not exported")
	}
	if !strings.Contains(body, "sitemigrator_row_duration_seconds_count 2") {
		t.Error("row duration not observed")
	}
	if !strings.Contains(body, "sitemigrator_processing_cycles_total 1") {
		t.Error("cycle counter not exported")
	}
}

func TestGetStatusPaginatesItems(t *testing.T) {
	engine, _, scheduler, _ := newTestEngine(t)
	ctx := context.Background()

	b, _ := engine.CreateBatch(ctx, "rows.csv", "/tmp/rows.csv", testRows(30), false)
	scheduler.runNext()

	status, err := engine.GetStatus(ctx, b.ID, 10, 25)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Stats.Success != 25 || status.Stats.Pending != 5 {
		t.Errorf("stats = %+v", status.Stats)
	}
	if len(status.Items) != 5 {
		t.Fatalf("page holds %d items, want 5", len(status.Items))
	}
	if status.Items[0].RowIndex != 26 {
		t.Errorf("page starts at row %d, want 26", status.Items[0].RowIndex)
	}
}

func TestResumeReschedulesUnfinishedBatches(t *testing.T) {
	engine, store, scheduler, _ := newTestEngine(t)
	ctx := context.Background()

	unfinished, _ := engine.CreateBatch(ctx, "a.csv", "/tmp/a.csv", testRows(1), false)
	done, _ := engine.CreateBatch(ctx, "b.csv", "/tmp/b.csv", testRows(1), false)

	// drain the creation-time schedules, completing only the second batch
	scheduler.tasks = scheduler.tasks[:0]
	scheduler.delays = scheduler.delays[:0]
	if err := engine.ProcessNextCycle(ctx, done.ID); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	scheduler.tasks = scheduler.tasks[:0]
	scheduler.delays = scheduler.delays[:0]

	if err := engine.Resume(ctx); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if len(scheduler.tasks) != 1 {
		t.Fatalf("resume scheduled %d cycles, want 1", len(scheduler.tasks))
	}

	scheduler.runNext()
	current, _ := store.GetBatch(ctx, unfinished.ID)
	if current.Status != BatchCompleted {
		t.Errorf("resumed batch status = %s", current.Status)
	}
}
