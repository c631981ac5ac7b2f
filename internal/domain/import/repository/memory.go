package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryImportRunRepository keeps runs in process memory. It backs dry runs
// and tests.
type MemoryImportRunRepository struct {
	mu   sync.Mutex
	runs map[uuid.UUID]ImportRun
	now  func() time.Time
}

func NewMemoryImportRunRepository() *MemoryImportRunRepository {
	return &MemoryImportRunRepository{
		runs: make(map[uuid.UUID]ImportRun),
		now:  time.Now,
	}
}

func (r *MemoryImportRunRepository) CreateRun(_ context.Context, run *ImportRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.Status = RunStatusRunning
	run.StartedAt = r.now()
	r.runs[run.ID] = *run
	return nil
}

func (r *MemoryImportRunRepository) FinishRun(_ context.Context, run *ImportRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.runs[run.ID]
	if !ok {
		return ErrRunNotFound
	}
	finished := r.now()
	run.StartedAt = stored.StartedAt
	run.FinishedAt = &finished
	r.runs[run.ID] = *run
	return nil
}

func (r *MemoryImportRunRepository) GetRun(_ context.Context, id uuid.UUID) (*ImportRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return &run, nil
}

func (r *MemoryImportRunRepository) ListRuns(_ context.Context, limit int) ([]*ImportRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs := make([]*ImportRun, 0, len(r.runs))
	for _, run := range r.runs {
		run := run
		runs = append(runs, &run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
