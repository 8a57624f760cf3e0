// Package memory provides an in-memory implementation of
// storage.WorkflowStore. Everything is lost when the process exits; there
// is no eviction.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rhuss/flowgen/pkg/api"
	"github.com/rhuss/flowgen/pkg/storage"
)

// workflowEntry holds a stored workflow. mu serializes UpdateWorkflow
// calls for this workflow only.
type workflowEntry struct {
	mu         sync.Mutex
	wf         *api.Workflow
	executions []string
}

// Store is an in-memory WorkflowStore.
type Store struct {
	mu         sync.RWMutex
	workflows  map[string]*workflowEntry
	executions map[string]*api.WorkflowExecution
}

// Ensure Store implements storage.WorkflowStore at compile time.
var _ storage.WorkflowStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		workflows:  make(map[string]*workflowEntry),
		executions: make(map[string]*api.WorkflowExecution),
	}
}

// SaveWorkflow stores a copy of wf.
func (s *Store) SaveWorkflow(_ context.Context, wf *api.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[wf.ID]; exists {
		return storage.ErrConflict
	}
	s.workflows[wf.ID] = &workflowEntry{wf: wf.Clone()}
	return nil
}

// GetWorkflow returns a copy of the stored workflow.
func (s *Store) GetWorkflow(_ context.Context, id string) (*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.workflows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return e.wf.Clone(), nil
}

// UpdateWorkflow runs fn on a copy of the workflow while holding the
// workflow's lock, then stores the copy.
func (s *Store) UpdateWorkflow(_ context.Context, id string, fn func(*api.Workflow) error) (*api.Workflow, error) {
	s.mu.RLock()
	e, ok := s.workflows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.RLock()
	updated := e.wf.Clone()
	s.mu.RUnlock()

	if err := fn(updated); err != nil {
		return nil, err
	}
	if updated.ID != id {
		return nil, fmt.Errorf("update changed workflow id from %s to %s", id, updated.ID)
	}

	s.mu.Lock()
	e.wf = updated
	s.mu.Unlock()
	return updated.Clone(), nil
}

// ListWorkflows returns copies of all workflows, newest first.
func (s *Store) ListWorkflows(_ context.Context) ([]*api.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*api.Workflow, 0, len(s.workflows))
	for _, e := range s.workflows {
		list = append(list, e.wf.Clone())
	}
	slices.SortFunc(list, func(a, b *api.Workflow) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return list, nil
}

// SaveExecution stores a copy of exec, replacing any earlier snapshot.
func (s *Store) SaveExecution(_ context.Context, exec *api.WorkflowExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.workflows[exec.WorkflowID]
	if !ok {
		return fmt.Errorf("workflow %s: %w", exec.WorkflowID, storage.ErrNotFound)
	}
	if prev, exists := s.executions[exec.ID]; exists {
		if prev.WorkflowID != exec.WorkflowID {
			return fmt.Errorf("execution %s belongs to workflow %s: %w", exec.ID, prev.WorkflowID, storage.ErrConflict)
		}
	} else {
		e.executions = append(e.executions, exec.ID)
	}
	s.executions[exec.ID] = exec.Clone()
	return nil
}

// GetExecution returns a copy of the stored execution.
func (s *Store) GetExecution(_ context.Context, id string) (*api.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exec, ok := s.executions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return exec.Clone(), nil
}

// ListExecutions returns copies of a workflow's executions, newest first.
func (s *Store) ListExecutions(_ context.Context, workflowID string) ([]*api.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.workflows[workflowID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	list := make([]*api.WorkflowExecution, 0, len(e.executions))
	for i := len(e.executions) - 1; i >= 0; i-- {
		list = append(list, s.executions[e.executions[i]].Clone())
	}
	slices.SortStableFunc(list, func(a, b *api.WorkflowExecution) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return list, nil
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
