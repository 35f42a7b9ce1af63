// internal/store/memory.go

// Package store provides content store implementations: an in-memory store
// for tests and dry runs, and a SQL store for real migrations.
package store

import (
	"context"
	"sync"

	"github.com/valpere/SiteMigrator/internal/migrate"
)

// MemoryStore is an in-memory content store used by tests and dry runs. It
// mirrors the addressing rules of the SQL implementation: pages by full path,
// posts by slug.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records map[int64]*migrate.Payload
	urls    map[string]int64 // canonical source-URL key -> record id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		records: make(map[int64]*migrate.Payload),
		urls:    make(map[string]int64),
	}
}

// Find implements migrate.ContentStore.
func (m *MemoryStore) Find(ctx context.Context, path string, typ migrate.ContentType) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for id, rec := range m.records {
		if rec.Type != typ {
			continue
		}
		if typ == migrate.TypePage && rec.Path == path {
			return id, true, nil
		}
		if typ == migrate.TypePost && rec.Slug == migrate.SlugFromPath(path) {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// FindByMigratedURL implements migrate.ContentStore.
func (m *MemoryStore) FindByMigratedURL(ctx context.Context, sourceURL string, typ migrate.ContentType) (int64, bool, error) {
	key := migrate.CanonicalURLKey(sourceURL)
	if key == "" {
		return 0, false, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.urls[key]
	if !ok {
		return 0, false, nil
	}
	if rec := m.records[id]; rec == nil || rec.Type != typ {
		return 0, false, nil
	}
	return id, true, nil
}

// Create implements migrate.ContentStore.
func (m *MemoryStore) Create(ctx context.Context, p *migrate.Payload) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	rec := *p
	m.records[id] = &rec
	m.trackURL(id, p.MigratedFrom)
	return id, nil
}

// Update implements migrate.ContentStore.
func (m *MemoryStore) Update(ctx context.Context, id int64, p *migrate.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return &migrate.PersistenceError{Op: "update", Path: p.Path, Err: errNotFound}
	}
	rec := *p
	m.records[id] = &rec
	m.trackURL(id, p.MigratedFrom)
	return nil
}

func (m *MemoryStore) trackURL(id int64, sourceURL string) {
	for _, v := range migrate.URLVariants(sourceURL) {
		if key := migrate.CanonicalURLKey(v); key != "" {
			m.urls[key] = id
		}
	}
}

// Get returns a copy of the stored record, for test assertions.
func (m *MemoryStore) Get(id int64) (migrate.Payload, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return migrate.Payload{}, false
	}
	return *rec, true
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

type notFoundError struct{}

func (notFoundError) Error() string { return "record not found" }

var errNotFound = notFoundError{}
