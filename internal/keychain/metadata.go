package keychain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SecretMetadata records when a secret was first stored and last changed.
// Values never appear here.
type SecretMetadata struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// MetadataStore keeps SecretMetadata in a JSON file next to the other
// autodash state. A nil *MetadataStore tracks nothing.
type MetadataStore struct {
	mu      sync.RWMutex
	path    string
	entries map[string]SecretMetadata
}

// NewMetadataStore loads path if it exists. A corrupt file is logged and
// replaced on the next write.
func NewMetadataStore(path string) (*MetadataStore, error) {
	ms := &MetadataStore{path: path, entries: make(map[string]SecretMetadata)}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &ms.entries); err != nil {
			slog.Warn("corrupt secret metadata, starting fresh", "path", path, "error", err)
			ms.entries = make(map[string]SecretMetadata)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("reading secret metadata: %w", err)
	}
	return ms, nil
}

// Get returns the metadata for key, or nil if it is not tracked.
func (ms *MetadataStore) Get(key string) *SecretMetadata {
	if ms == nil {
		return nil
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	m, ok := ms.entries[key]
	if !ok {
		return nil
	}
	return &m
}

// Set replaces the metadata for key.
func (ms *MetadataStore) Set(key string, meta *SecretMetadata) error {
	if ms == nil || meta == nil {
		return nil
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[key] = *meta
	return ms.flush()
}

// Touch marks key as written at now, keeping its creation time.
func (ms *MetadataStore) Touch(key string, now time.Time) error {
	if ms == nil {
		return nil
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	m, ok := ms.entries[key]
	if !ok {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	ms.entries[key] = m
	return ms.flush()
}

// Delete forgets key.
func (ms *MetadataStore) Delete(key string) error {
	if ms == nil {
		return nil
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.entries[key]; !ok {
		return nil
	}
	delete(ms.entries, key)
	return ms.flush()
}

// flush writes the file atomically. ms.mu must be held.
func (ms *MetadataStore) flush() error {
	data, err := json.MarshalIndent(ms.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(ms.path), 0700); err != nil {
		return err
	}
	tmp := ms.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, ms.path)
}
