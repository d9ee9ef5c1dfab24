package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/gofrs/flock"
)

// File permission constants.
const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// PersistedCommand is the durable shape of a pending command.
//
// Only type, target and params survive a restart. Order is the 1-based
// position in the persisted pending list and restores FIFO on load.
type PersistedCommand struct {
	Type   string         `json:"type"`
	Target string         `json:"target"`
	Params map[string]any `json:"params"`
	Order  int            `json:"order"`
}

// Store is the persistence adapter for the pending subset of the queue.
//
// Save always receives the complete pending list and replaces whatever was
// stored before. Load is called once at startup.
type Store interface {
	Load(ctx context.Context) ([]PersistedCommand, error)
	Save(ctx context.Context, cmds []PersistedCommand) error
}

// stateFile is the on-disk document layout.
type stateFile struct {
	Commands []PersistedCommand `json:"commands"`
}

// FileStore persists pending commands as a single JSON document.
//
// Writes go to a temp file in the same directory which is fsynced and
// renamed over the target, so readers never see a torn file. A sibling
// ".lock" file is held with flock for the life of the store.
//
// Thread Safety: All methods are safe for concurrent use.
type FileStore struct {
	path string
	lock *flock.Flock
	mu   sync.Mutex
}

// OpenFileStore prepares a file store at path and takes the exclusive lock.
//
// Returns ErrStoreLocked if another process already owns the file.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: persistence path", ErrMissingField)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating queue directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking queue file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrStoreLocked, path)
	}

	return &FileStore{path: path, lock: lock}, nil
}

// Path returns the filesystem path of the queue file.
func (s *FileStore) Path() string {
	return s.path
}

// Close releases the file lock.
func (s *FileStore) Close() error {
	if s.lock == nil {
		return nil
	}
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlocking queue file: %w", err)
	}
	return nil
}

// Load reads the persisted pending commands sorted by order.
// A missing file is not an error and yields an empty list.
func (s *FileStore) Load(_ context.Context) ([]PersistedCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading queue file: %w", err)
	}

	var doc stateFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing queue file: %w", err)
	}

	sort.SliceStable(doc.Commands, func(i, j int) bool {
		return doc.Commands[i].Order < doc.Commands[j].Order
	})
	return doc.Commands, nil
}

// Save replaces the queue file with cmds.
func (s *FileStore) Save(_ context.Context, cmds []PersistedCommand) error {
	if cmds == nil {
		cmds = []PersistedCommand{}
	}

	content, err := json.MarshalIndent(stateFile{Commands: cmds}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling queue file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWrite(s.path, content)
}

// atomicWrite writes content to a temp file next to path, syncs it and
// renames it into place.
func atomicWrite(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cmdbroker-tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		// Clean up temp file on any failure; no-op after a successful rename.
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}

// MemoryStore keeps the pending list in memory.
// It is used when persistence is disabled and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	cmds    []PersistedCommand
	saves   int
	saveErr error
	loadErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the last saved list.
func (m *MemoryStore) Load(_ context.Context) ([]PersistedCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return copyPersisted(m.cmds), nil
}

// Save replaces the stored list.
func (m *MemoryStore) Save(_ context.Context, cmds []PersistedCommand) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.cmds = copyPersisted(cmds)
	m.saves++
	return nil
}

// Saves returns how many successful Save calls were made.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailWith makes subsequent Save and Load calls return err (nil to clear).
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
	m.loadErr = err
}

func copyPersisted(cmds []PersistedCommand) []PersistedCommand {
	if cmds == nil {
		return nil
	}
	out := make([]PersistedCommand, len(cmds))
	for i, c := range cmds {
		c.Params = cloneParams(c.Params)
		out[i] = c
	}
	return out
}
