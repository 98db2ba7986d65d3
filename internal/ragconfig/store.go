package ragconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrNotExist is returned by a Store that has never been written.
var ErrNotExist = errors.New("rag config not persisted")

// Store persists the serialized RagConfig.
type Store interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// FileStore keeps the config in a JSON file guarded by an advisory file lock,
// so several processes sharing the file never observe a torn write.
type FileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore returns a FileStore for path. The lock file is path + ".lock".
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, lock: flock.New(path + ".lock")}
}

// Path returns the config file location.
func (s *FileStore) Path() string { return s.path }

const lockRetry = 25 * time.Millisecond

// Read returns the file contents or ErrNotExist.
func (s *FileStore) Read(ctx context.Context) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := s.lock.TryRLockContext(ctx, lockRetry); err != nil {
		return nil, fmt.Errorf("failed to lock config: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return data, nil
}

// Write replaces the file atomically via a temp file and rename.
func (s *FileStore) Write(ctx context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := s.lock.TryLockContext(ctx, lockRetry); err != nil {
		return fmt.Errorf("failed to lock config: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, ".rag-config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// MemoryStore keeps the config in memory. Useful for tests and ephemeral servers.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Read(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, ErrNotExist
	}
	return append([]byte(nil), s.data...), nil
}

func (s *MemoryStore) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
	return nil
}
