package tab

import (
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the open tabs of a process
type Registry struct {
	shared Shared

	mu   sync.RWMutex
	tabs map[uuid.UUID]*Tab
}

// NewRegistry creates a registry opening tabs with shared dependencies
func NewRegistry(shared Shared) *Registry {
	return &Registry{
		shared: shared,
		tabs:   make(map[uuid.UUID]*Tab),
	}
}

// Open creates and registers a tab
func (r *Registry) Open() (*Tab, error) {
	t, err := New(r.shared)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.tabs[t.ID] = t
	r.mu.Unlock()
	return t, nil
}

// Get returns an open tab
func (r *Registry) Get(id uuid.UUID) (*Tab, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tabs[id]
	return t, ok
}

// Close closes and forgets a tab. It returns false for unknown ids.
func (r *Registry) Close(id uuid.UUID) bool {
	r.mu.Lock()
	t, ok := r.tabs[id]
	delete(r.tabs, id)
	r.mu.Unlock()

	if ok {
		t.Close()
	}
	return ok
}

// CloseAll closes every tab
func (r *Registry) CloseAll() {
	r.mu.Lock()
	tabs := r.tabs
	r.tabs = make(map[uuid.UUID]*Tab)
	r.mu.Unlock()

	for _, t := range tabs {
		t.Close()
	}
}

// Len returns the number of open tabs
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
