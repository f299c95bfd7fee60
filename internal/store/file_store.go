// Package store implements domain.PreferencesStore backends.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/nomor/memclear/internal/domain"
)

// fileDocument is the on-disk layout of the JSON store.
type fileDocument struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values"`
}

// FileStore implements domain.PreferencesStore using a JSON file.
// Writes go through a lock file and an atomic rename so a concurrent
// CLI invocation and the daemon never observe a torn file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store at path, creating the parent directory.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value and whether the key exists.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := doc.Values[key]
	return v, ok, nil
}

// Set stores a value.
func (s *FileStore) Set(key, value string) error {
	return s.update(func(doc *fileDocument) error {
		doc.Values[key] = value
		return nil
	})
}

// Delete removes a key.
func (s *FileStore) Delete(key string) error {
	return s.update(func(doc *fileDocument) error {
		delete(doc.Values, key)
		return nil
	})
}

// Update rewrites key under the cross-process lock.
func (s *FileStore) Update(key string, fn func(value string, ok bool) (string, error)) error {
	return s.update(func(doc *fileDocument) error {
		old, ok := doc.Values[key]
		value, err := fn(old, ok)
		if err != nil {
			return err
		}
		doc.Values[key] = value
		return nil
	})
}

// All returns a snapshot of every key.
func (s *FileStore) All() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	return doc.Values, nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) update(mutate func(doc *fileDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Use file lock to serialize writers across processes (CLI vs daemon)
	lockFile, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := mutate(doc); err != nil {
		return err
	}
	return s.atomicWrite(doc)
}

func (s *FileStore) read() (*fileDocument, error) {
	doc := &fileDocument{Version: 1, Values: make(map[string]string)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to decode store %s: %w", s.path, err)
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	return doc, nil
}

// atomicWrite writes the document to a temp file and renames it into place.
func (s *FileStore) atomicWrite(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	// Unique per process to avoid races between writers
	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Ensure FileStore implements domain.PreferencesStore.
var _ domain.PreferencesStore = (*FileStore)(nil)
