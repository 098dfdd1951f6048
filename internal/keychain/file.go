package keychain

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore keeps secrets in a YAML map readable only by the owner. With
// no path it keeps them in memory instead, which is what tests use.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  map[string]string
}

// NewFileStore returns a store backed by path. The file is created on the
// first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// NewMemoryStore returns a store that never touches disk.
func NewMemoryStore() *FileStore {
	return &FileStore{mem: make(map[string]string)}
}

// read returns a private copy of the current secrets. s.mu must be held.
func (s *FileStore) read() (map[string]string, error) {
	if s.path == "" {
		return maps.Clone(s.mem), nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	secrets := map[string]string{}
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", s.path, err)
	}
	return secrets, nil
}

// write replaces the stored secrets. s.mu must be held.
func (s *FileStore) write(secrets map[string]string) error {
	if s.path == "" {
		s.mem = secrets
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating secrets directory: %w", err)
	}
	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("encoding secrets: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing secrets file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// update applies fn to the secrets and writes them back if fn reports a
// change.
func (s *FileStore) update(fn func(map[string]string) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.read()
	if err != nil {
		return err
	}
	if !fn(secrets) {
		return nil
	}
	return s.write(secrets)
}

func (s *FileStore) Set(key, value string) error {
	return s.update(func(m map[string]string) bool {
		m[key] = value
		return true
	})
}

func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.read()
	if err != nil {
		return "", err
	}
	val, ok := secrets[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}

// List returns the stored keys in sorted order.
func (s *FileStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secrets, err := s.read()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(secrets)), nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FileStore) Delete(key string) error {
	return s.update(func(m map[string]string) bool {
		if _, ok := m[key]; !ok {
			return false
		}
		delete(m, key)
		return true
	})
}
