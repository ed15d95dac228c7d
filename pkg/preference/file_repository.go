package preference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const preferenceFile = "mfa_preferences.json"

// FileRepository stores preferences as JSON in dataDir
type FileRepository struct {
	dataDir string
	prefs   map[string]Preference
	mutex   sync.RWMutex
}

// NewFileRepository creates a file-based repository, loading existing data
func NewFileRepository(dataDir string) (*FileRepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileRepository{
		dataDir: dataDir,
		prefs:   make(map[string]Preference),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileRepository) Get(ctx context.Context, subjectID string) (Preference, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	p, ok := r.prefs[subjectID]
	if !ok {
		return Preference{}, ErrNotFound
	}
	return p, nil
}

func (r *FileRepository) RecordPrompt(ctx context.Context, subjectID string, optedIn bool, at time.Time) (Preference, bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, existed := r.prefs[subjectID]
	p, recorded := recordPrompt(r.prefs, subjectID, optedIn, at)
	if !recorded {
		return p, false, nil
	}

	if err := r.save(); err != nil {
		// Rollback
		if existed {
			r.prefs[subjectID] = previous
		} else {
			delete(r.prefs, subjectID)
		}
		return Preference{}, false, fmt.Errorf("failed to save: %w", err)
	}
	return p, true, nil
}

func (r *FileRepository) SetOptedIn(ctx context.Context, subjectID string, optedIn bool, at time.Time) (Preference, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	previous, existed := r.prefs[subjectID]
	p := setOptedIn(r.prefs, subjectID, optedIn, at)

	if err := r.save(); err != nil {
		if existed {
			r.prefs[subjectID] = previous
		} else {
			delete(r.prefs, subjectID)
		}
		return Preference{}, fmt.Errorf("failed to save: %w", err)
	}
	return p, nil
}

// load reads preferences from file
func (r *FileRepository) load() error {
	filePath := filepath.Join(r.dataDir, preferenceFile)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var prefs []Preference
	if err := json.Unmarshal(data, &prefs); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	r.prefs = make(map[string]Preference, len(prefs))
	for _, p := range prefs {
		r.prefs[p.SubjectID] = p
	}
	return nil
}

// save writes preferences to file atomically
func (r *FileRepository) save() error {
	prefs := make([]Preference, 0, len(r.prefs))
	for _, p := range r.prefs {
		prefs = append(prefs, p)
	}
	sort.Slice(prefs, func(i, j int) bool { return prefs[i].SubjectID < prefs[j].SubjectID })

	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, preferenceFile+".tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, preferenceFile)
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}
