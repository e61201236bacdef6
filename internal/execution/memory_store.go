package execution

import (
	"context"
	"sync"
	"time"

	"flowhub/internal/models"
)

// MemoryStore is an in-process Store used by tests and single-node dev runs.
// A single mutex gives it the same atomicity guarantees the Mongo store gets
// from FindOneAndUpdate.
type MemoryStore struct {
	mu         sync.Mutex
	executions map[string]*models.Execution
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{executions: make(map[string]*models.Execution)}
}

func (s *MemoryStore) Create(ctx context.Context, exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	return exec.Clone(), nil
}

func (s *MemoryStore) AppendBlockRun(ctx context.Context, executionID string, run models.BlockRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	exec.BlockRuns = append(exec.BlockRuns, run)
	return nil
}

func (s *MemoryStore) UpdateBlockRun(ctx context.Context, executionID string, run models.BlockRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	for i := len(exec.BlockRuns) - 1; i >= 0; i-- {
		if exec.BlockRuns[i].BlockID == run.BlockID && exec.BlockRuns[i].IterationPath == run.IterationPath {
			exec.BlockRuns[i] = run
			return nil
		}
	}
	exec.BlockRuns = append(exec.BlockRuns, run)
	return nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, executionID string, status models.ExecutionStatus, extra StatusExtra) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	if err := ValidateTransition(exec.Status, status); err != nil {
		return err
	}
	exec.Status = status
	exec.WaitingBlock = extra.WaitingBlock
	exec.Error = extra.Error
	if extra.CompletedAt != nil {
		exec.CompletedAt = extra.CompletedAt
	} else if status.IsTerminal() {
		now := time.Now().UTC()
		exec.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) ClaimResume(ctx context.Context, executionID string) (*models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	if exec.Status != models.ExecutionStatusWaitingBlock || exec.WaitingBlock == nil {
		return nil, ErrNotWaiting
	}
	snapshot := exec.Clone()
	exec.Status = models.ExecutionStatusRunning
	exec.WaitingBlock = nil
	return snapshot, nil
}
