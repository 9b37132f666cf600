package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store loads and persists the full credential set
type Store interface {
	Load(ctx context.Context) (Set, error)
	Save(ctx context.Context, set Set) error
}

// PersistenceError is a credential store write failure
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("credential store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("credential store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// FileStore keeps credentials in a YAML file, or JSON when the path ends in .json.
// The file is read once and cached; the cache only moves forward after a
// successful write.
type FileStore struct {
	path string

	mu     sync.Mutex
	cached *Set
}

// NewFileStore creates a file backed store
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

// Load returns a copy of the credential set
func (s *FileStore) Load(ctx context.Context) (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached.Clone(), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Set{}, fmt.Errorf("credential file %s not found: %w", s.path, err)
		}
		return Set{}, fmt.Errorf("reading credential file: %w", err)
	}

	var set Set
	if s.isJSON() {
		err = json.Unmarshal(data, &set)
	} else {
		err = yaml.Unmarshal(data, &set)
	}
	if err != nil {
		return Set{}, fmt.Errorf("parsing credential file %s: %w", s.path, err)
	}
	if err := set.Validate(); err != nil {
		return Set{}, fmt.Errorf("invalid credential file %s: %w", s.path, err)
	}

	s.cached = &set
	return set.Clone(), nil
}

// Save atomically replaces the credential file with set
func (s *FileStore) Save(ctx context.Context, set Set) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := set.Validate(); err != nil {
		return &PersistenceError{Op: "validate", Path: s.path, Err: err}
	}

	var (
		data []byte
		err  error
	)
	if s.isJSON() {
		data, err = json.MarshalIndent(set, "", "  ")
	} else {
		data, err = yaml.Marshal(set)
	}
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data, 0600); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}

	saved := set.Clone()
	s.cached = &saved
	return nil
}

func (s *FileStore) isJSON() bool {
	return strings.EqualFold(filepath.Ext(s.path), ".json")
}

// writeFileAtomic writes into a temp file next to path, syncs it and renames it
// over path. The temp file is removed on every failure path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing credential file: %w", err)
	}
	return nil
}

// MemoryStore is an in-process store
type MemoryStore struct {
	mu      sync.Mutex
	set     Set
	saves   int
	SaveErr error
}

// NewMemoryStore creates a store seeded with set
func NewMemoryStore(set Set) *MemoryStore {
	return &MemoryStore{set: set.Clone()}
}

// Load returns a copy of the stored set
func (s *MemoryStore) Load(ctx context.Context) (Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Clone(), nil
}

// Save replaces the stored set unless SaveErr is set
func (s *MemoryStore) Save(ctx context.Context, set Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return &PersistenceError{Op: "save", Err: s.SaveErr}
	}
	s.set = set.Clone()
	s.saves++
	return nil
}

// Saves returns how many successful saves happened
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// IsPersistenceError reports whether err is a credential store write failure
func IsPersistenceError(err error) bool {
	var perr *PersistenceError
	return errors.As(err, &perr)
}
