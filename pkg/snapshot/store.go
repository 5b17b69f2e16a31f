package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/metrics"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

var (
	// ErrNotFound is returned when no snapshot has been published yet
	ErrNotFound = errors.New("snapshot not found")
	// ErrReadOnly is returned by stores that cannot be written
	ErrReadOnly = errors.New("snapshot store is read-only")
)

// Store is where the published snapshot lives
type Store interface {
	Read(ctx context.Context) ([]models.Record, error)
	Write(ctx context.Context, records []models.Record) error
	// Name identifies the backend in logs and metrics
	Name() string
}

// FileStore keeps the snapshot in a local file, replaced atomically on write
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Name() string { return "file" }

// Path returns the snapshot file path
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Read(_ context.Context) (records []models.Record, err error) {
	defer func() { metrics.RecordSnapshotOperation(s.Name(), "read", err) }()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot %s: %w", s.path, err)
	}
	defer f.Close()

	return Decode(f)
}

func (s *FileStore) Write(_ context.Context, records []models.Record) (err error) {
	defer func() { metrics.RecordSnapshotOperation(s.Name(), "write", err) }()
	return WriteFile(s.path, records)
}

// WriteFile encodes records into path through a temp file and rename
func WriteFile(path string, records []models.Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := Encode(tmp, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// MemoryStore holds the snapshot in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	records  []models.Record
	present  bool
	writeErr error
	writes   int
}

// NewMemoryStore creates a memory store seeded with records. A nil seed
// behaves like a store that has never been written.
func NewMemoryStore(records []models.Record) *MemoryStore {
	s := &MemoryStore{}
	if records != nil {
		s.records = cloneRecords(records)
		s.present = true
	}
	return s
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Read(_ context.Context) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.present {
		return nil, ErrNotFound
	}
	return cloneRecords(s.records), nil
}

func (s *MemoryStore) Write(_ context.Context, records []models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.records = cloneRecords(records)
	s.present = true
	s.writes++
	return nil
}

// FailWrites makes every following Write return err; nil restores writes
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Writes returns the number of successful writes
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func cloneRecords(records []models.Record) []models.Record {
	out := make([]models.Record, len(records))
	copy(out, records)
	return out
}
