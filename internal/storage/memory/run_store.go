package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
)

// DefaultRunHistory bounds how many runs a RunStore keeps.
const DefaultRunHistory = 256

// RunStore keeps the most recent refresh runs in memory.
type RunStore struct {
	mu    sync.RWMutex
	runs  []catalog.RefreshRun
	limit int
}

// NewRunStore creates a RunStore that keeps at most limit runs.
func NewRunStore(limit int) *RunStore {
	if limit <= 0 {
		limit = DefaultRunHistory
	}
	return &RunStore{limit: limit}
}

// RecordRun appends run, dropping the oldest entry when full.
func (s *RunStore) RecordRun(_ context.Context, run catalog.RefreshRun) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	if over := len(s.runs) - s.limit; over > 0 {
		s.runs = append([]catalog.RefreshRun(nil), s.runs[over:]...)
	}
	return nil
}

// Runs returns recorded runs, oldest first.
func (s *RunStore) Runs() []catalog.RefreshRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]catalog.RefreshRun(nil), s.runs...)
}

// Latest returns the most recent run for lang.
func (s *RunStore) Latest(lang string) (catalog.RefreshRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		if s.runs[i].Language == lang {
			return s.runs[i], true
		}
	}
	return catalog.RefreshRun{}, false
}
