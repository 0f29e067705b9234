// Package memory is an in-process ExpenseExporter used by tests and when no
// spreadsheet is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"expensedesk/internal/core"
	ports "expensedesk/internal/sheets"
)

var _ ports.ExpenseExporter = (*Store)(nil)

type Store struct {
	mu    sync.Mutex
	rows  map[int64]int
	items []core.Expense
}

func New() *Store {
	return &Store{rows: map[int64]int{}}
}

// Export stores the expense, replacing an earlier export of the same id.
func (s *Store) Export(_ context.Context, e core.Expense) (string, error) {
	if e.ID <= 0 {
		return "", errors.New("export expense: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.rows[e.ID]; ok {
		s.items[idx] = e.Clone()
		return fmt.Sprintf("mem:%d", idx+1), nil
	}
	s.items = append(s.items, e.Clone())
	s.rows[e.ID] = len(s.items) - 1
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Get returns the exported copy of the expense with id.
func (s *Store) Get(id int64) (core.Expense, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.rows[id]
	if !ok {
		return core.Expense{}, false
	}
	return s.items[idx].Clone(), true
}

// IDs returns the exported expense ids in ascending order.
func (s *Store) IDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
