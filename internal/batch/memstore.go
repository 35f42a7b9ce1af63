// internal/batch/memstore.go
package batch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and database-less dry runs.
// State does not survive a restart; everything else behaves like SQLStore.
type MemoryStore struct {
	mu          sync.Mutex
	nextBatchID int64
	nextItemID  int64
	batches     map[int64]*Batch
	items       map[int64]*Item
}

// NewMemoryStore creates an empty in-memory batch store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextBatchID: 1,
		nextItemID:  1,
		batches:     make(map[int64]*Batch),
		items:       make(map[int64]*Item),
	}
}

// CreateBatch implements Store.
func (m *MemoryStore) CreateBatch(ctx context.Context, b *Batch, rows []map[string]string) error {
	if len(rows) == 0 {
		return fmt.Errorf("batch has no rows")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b.ID = m.nextBatchID
	m.nextBatchID++
	b.Status = BatchPending
	b.TotalItems = len(rows)
	b.CreatedAt = time.Now().UTC()

	stored := *b
	m.batches[b.ID] = &stored

	for i, row := range rows {
		data, err := encodeRowData(row)
		if err != nil {
			delete(m.batches, b.ID)
			return fmt.Errorf("failed to encode row %d: %w", i+1, err)
		}
		item := &Item{
			ID:       m.nextItemID,
			BatchID:  b.ID,
			RowIndex: i + 1,
			RowData:  data,
			Status:   ItemPending,
		}
		m.nextItemID++
		m.items[item.ID] = item
	}
	return nil
}

// GetBatch implements Store.
func (m *MemoryStore) GetBatch(ctx context.Context, id int64) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("batch not found")
	}
	copied := *b
	return &copied, nil
}

// UpdateBatch implements Store.
func (m *MemoryStore) UpdateBatch(ctx context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.batches[b.ID]; !ok {
		return fmt.Errorf("batch not found")
	}
	stored := *b
	m.batches[b.ID] = &stored
	return nil
}

// ListBatches implements Store.
func (m *MemoryStore) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	batches := make([]Batch, 0, len(m.batches))
	for _, b := range m.batches {
		batches = append(batches, *b)
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].ID > batches[j].ID })
	if len(batches) > limit {
		batches = batches[:limit]
	}
	return batches, nil
}

// ClaimPending implements Store.
func (m *MemoryStore) ClaimPending(ctx context.Context, batchID int64, limit int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var pending []*Item
	for _, item := range m.items {
		if item.BatchID == batchID && item.Status == ItemPending {
			pending = append(pending, item)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].RowIndex < pending[j].RowIndex })
	if len(pending) > limit {
		pending = pending[:limit]
	}

	now := time.Now().UTC()
	claimed := make([]Item, 0, len(pending))
	for _, item := range pending {
		item.Status = ItemProcessing
		item.StartedAt = &now
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

// GetItem implements Store.
func (m *MemoryStore) GetItem(ctx context.Context, id int64) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("item not found")
	}
	copied := *item
	return &copied, nil
}

// UpdateItem implements Store.
func (m *MemoryStore) UpdateItem(ctx context.Context, item *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[item.ID]; !ok {
		return fmt.Errorf("item not found")
	}
	stored := *item
	m.items[item.ID] = &stored
	return nil
}

// ResetItem implements Store.
func (m *MemoryStore) ResetItem(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("item %d not found", id)
	}
	resetItem(item)
	return nil
}

// ResetFailed implements Store.
func (m *MemoryStore) ResetFailed(ctx context.Context, batchID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, item := range m.items {
		if item.BatchID == batchID && item.Status == ItemFailed {
			resetItem(item)
			n++
		}
	}
	return n, nil
}

// ComputeStats implements Store.
func (m *MemoryStore) ComputeStats(ctx context.Context, batchID int64) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats Stats
	for _, item := range m.items {
		if item.BatchID != batchID {
			continue
		}
		switch item.Status {
		case ItemPending:
			stats.Pending++
		case ItemProcessing:
			stats.Processing++
		case ItemSuccess:
			stats.Success++
		case ItemSkipped:
			stats.Skipped++
		case ItemFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// ListItems implements Store.
func (m *MemoryStore) ListItems(ctx context.Context, batchID int64, limit, offset int) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var items []Item
	for _, item := range m.items {
		if item.BatchID == batchID {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].RowIndex < items[j].RowIndex })

	if offset >= len(items) {
		return nil, nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func resetItem(item *Item) {
	item.Status = ItemPending
	item.Attempts = 0
	item.ErrorMessage = ""
	item.Result = ""
	item.StartedAt = nil
	item.CompletedAt = nil
}
