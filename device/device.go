// Package device provides the stable device id the push gateway and the REST
// API expect in every request. The id is created once per machine and reused.
package device

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultFileName is the name of the file the id is kept in
const DefaultFileName = "did.bin"

// ErrEmptyID is returned when a stored id is empty
var ErrEmptyID = errors.New("device: stored id is empty")

// Store loads the device id, creating and persisting it on first use
type Store interface {
	LoadOrCreate() (string, error)
}

// NewID returns a fresh device id: 32 lowercase hex characters
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FileStore keeps the id msgpack-encoded in a file
type FileStore struct {
	Path string
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store for DefaultFileName inside dir. An empty dir
// means the working directory.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Path: filepath.Join(dir, DefaultFileName)}
}

// LoadOrCreate reads the id from the file, or creates a new one and writes
// it if the file does not exist
func (s *FileStore) LoadOrCreate() (string, error) {
	b, err := os.ReadFile(s.Path)
	switch {
	case err == nil:
		return decodeID(b)
	case errors.Is(err, os.ErrNotExist):
		id := NewID()
		if err := s.Set(id); err != nil {
			return "", err
		}
		return id, nil
	default:
		return "", fmt.Errorf("device: read %s: %w", s.Path, err)
	}
}

// Set overwrites the stored id, e.g. with one copied from a browser session
func (s *FileStore) Set(id string) error {
	if id == "" {
		return ErrEmptyID
	}
	b, err := msgpack.Marshal(id)
	if err != nil {
		return fmt.Errorf("device: encode id: %w", err)
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("device: %w", err)
		}
	}
	if err := os.WriteFile(s.Path, b, 0o600); err != nil {
		return fmt.Errorf("device: write %s: %w", s.Path, err)
	}
	return nil
}

func decodeID(b []byte) (string, error) {
	var id string
	if err := msgpack.Unmarshal(b, &id); err != nil {
		return "", fmt.Errorf("device: decode id: %w", err)
	}
	if id == "" {
		return "", ErrEmptyID
	}
	return id, nil
}

// MemoryStore keeps the id in memory only
type MemoryStore struct {
	mu sync.Mutex
	id string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store holding id; an empty id is created on first load
func NewMemoryStore(id string) *MemoryStore {
	return &MemoryStore{id: id}
}

func (s *MemoryStore) LoadOrCreate() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = NewID()
	}
	return s.id, nil
}

type onceStore struct {
	load func() (string, error)
}

// Once wraps s so that it is asked only once. Later calls return the same id,
// or the same error.
func Once(s Store) Store {
	if o, ok := s.(*onceStore); ok {
		return o
	}
	return &onceStore{load: sync.OnceValues(s.LoadOrCreate)}
}

func (o *onceStore) LoadOrCreate() (string, error) {
	return o.load()
}
