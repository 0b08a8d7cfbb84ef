package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileName is the history file kept under the pipeline work directory.
const FileName = "installations.json"

// Registry persists the outcome of the most recent installation per profile.
type Registry struct {
	path    string
	mu      sync.RWMutex
	version string
	records []Record
}

// NewRegistry creates a new Registry instance and loads it from disk
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:    path,
		version: "1.0",
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}

	if err := r.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		r.records = []Record{}
	}

	return r, nil
}

// Load reads the registry from disk
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse registry: %w", err)
	}

	r.version = file.Version
	r.records = file.Records

	return nil
}

// Save writes the registry to disk atomically
func (r *Registry) Save() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saveLocked()
}

func (r *Registry) saveLocked() error {
	data, err := json.MarshalIndent(File{Version: r.version, Records: r.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath) //nolint:errcheck
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}

// Put replaces the record for rec.Profile and persists the registry.
func (r *Registry) Put(rec Record) error {
	if rec.Profile == "" {
		return fmt.Errorf("record profile cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	replaced := false
	for i := range r.records {
		if r.records[i].Profile == rec.Profile {
			r.records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		r.records = append(r.records, rec)
	}

	return r.saveLocked()
}

// List returns all records, most recently completed first.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Record, len(r.records))
	copy(result, r.records)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CompletedAt.After(result[j].CompletedAt)
	})
	return result
}

// Get retrieves the record for a profile.
func (r *Registry) Get(profile string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		if rec.Profile == profile {
			return rec, true
		}
	}
	return Record{}, false
}
