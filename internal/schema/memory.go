package schema

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"segcompact/internal/compaction"
)

// MemoryStore is an in-memory Store
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[compaction.TableID]Table
}

// NewMemoryStore returns a store holding the given tables
func NewMemoryStore(tables ...Table) *MemoryStore {
	s := &MemoryStore{tables: make(map[compaction.TableID]Table)}
	for _, t := range tables {
		s.tables[t.ID] = t
	}
	return s
}

func (s *MemoryStore) GetTable(id compaction.TableID) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *MemoryStore) SaveTable(table *Table) error {
	if table.Keyspace == "" || table.Name == "" {
		return fmt.Errorf("table %d: keyspace and name are required", table.ID)
	}
	if table.CreatedAt.IsZero() {
		table.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table.ID] = *table
	return nil
}

func (s *MemoryStore) DropTable(id compaction.TableID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, id)
	return nil
}

func (s *MemoryStore) ListTables() ([]*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		t := t
		tables = append(tables, &t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].ID < tables[j].ID })
	return tables, nil
}

func (s *MemoryStore) Close() error { return nil }
