package preference

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps preferences in process memory
type MemoryRepository struct {
	mu    sync.RWMutex
	prefs map[string]Preference
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{prefs: make(map[string]Preference)}
}

func (r *MemoryRepository) Get(ctx context.Context, subjectID string) (Preference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prefs[subjectID]
	if !ok {
		return Preference{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepository) RecordPrompt(ctx context.Context, subjectID string, optedIn bool, at time.Time) (Preference, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, recorded := recordPrompt(r.prefs, subjectID, optedIn, at)
	return p, recorded, nil
}

func (r *MemoryRepository) SetOptedIn(ctx context.Context, subjectID string, optedIn bool, at time.Time) (Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return setOptedIn(r.prefs, subjectID, optedIn, at), nil
}

// recordPrompt applies the set-once rule to a map of preferences
func recordPrompt(prefs map[string]Preference, subjectID string, optedIn bool, at time.Time) (Preference, bool) {
	p, ok := prefs[subjectID]
	if ok && p.PromptedOnce {
		return p, false
	}
	p = Preference{
		SubjectID:    subjectID,
		PromptedOnce: true,
		OptedIn:      optedIn,
		UpdatedAt:    at,
	}
	prefs[subjectID] = p
	return p, true
}

func setOptedIn(prefs map[string]Preference, subjectID string, optedIn bool, at time.Time) Preference {
	p := prefs[subjectID]
	p.SubjectID = subjectID
	p.OptedIn = optedIn
	p.UpdatedAt = at
	prefs[subjectID] = p
	return p
}
