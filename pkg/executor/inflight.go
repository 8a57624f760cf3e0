package executor

import (
	"context"
	"sync"
)

// inFlight tracks running executions and the functions that cancel them.
// Once closed it refuses new registrations, so nothing can start after a
// shutdown has cancelled everything.
type inFlight struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	entries map[string]context.CancelCauseFunc
}

func newInFlight() *inFlight {
	return &inFlight{entries: make(map[string]context.CancelCauseFunc)}
}

// register adds an execution. It reports false after closeAll. Every
// successful register must be paired with done.
func (r *inFlight) register(id string, cancel context.CancelCauseFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.entries[id] = cancel
	r.wg.Add(1)
	return true
}

// done removes an execution once its final state is recorded.
func (r *inFlight) done(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	r.wg.Done()
}

// closeAll cancels every registered execution and closes the registry.
// It returns the number of executions cancelled.
func (r *inFlight) closeAll(cause error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	n := len(r.entries)
	for _, cancel := range r.entries {
		cancel(cause)
	}
	return n
}

// wait blocks until every registered execution is done.
func (r *inFlight) wait() { r.wg.Wait() }

func (r *inFlight) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
