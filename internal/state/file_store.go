package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopforge-io/shopforge/internal/ir"
)

// DefaultLockTimeout bounds how long Lock waits for a contended scope.
const DefaultLockTimeout = 15 * time.Second

// staleLockAge is the age past which a leftover lock file from a dead
// process is reclaimed.
const staleLockAge = 10 * time.Minute

// fileState is the on-disk shape of a FileStore.
type fileState struct {
	FormatVersion int               `json:"formatVersion"`
	Serial        int64             `json:"serial"`
	Records       []*ir.StateRecord `json:"records"`
}

// FileStore is the default local Store: one JSON file per scope, written
// atomically (temp file, fsync, rename) and optionally encrypted at rest.
// Scope locking uses a sibling lock file.
type FileStore struct {
	path        string
	LockTimeout time.Duration

	// mu serializes record access and persist; apply workers hit the
	// store concurrently.
	mu      sync.Mutex
	records map[string]*ir.StateRecord
	serial  int64
}

// OpenFileStore loads (or initializes) the state file at path. The store
// must be closed at shutdown.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:        path,
		LockTimeout: DefaultLockTimeout,
		records:     make(map[string]*ir.StateRecord),
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	plain, err := DecryptState(raw)
	if err != nil {
		return nil, err
	}

	var fs fileState
	if err := json.Unmarshal(plain, &fs); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}
	for _, rec := range fs.Records {
		s.records[rec.Address()] = rec
	}
	s.serial = fs.Serial
	return s, nil
}

func (s *FileStore) Get(ctx context.Context, addr string) (*ir.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *FileStore) List(ctx context.Context) ([]*ir.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ir.StateRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *FileStore) Put(ctx context.Context, rec *ir.StateRecord, base int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := rec.Address()
	if err := s.checkVersion(addr, base); err != nil {
		return err
	}

	prev, existed := s.records[addr]
	stored := rec.Clone()
	stored.Version = base + 1
	s.records[addr] = stored
	if err := s.persist(); err != nil {
		// Roll the in-memory map back so a failed write is not observable.
		if existed {
			s.records[addr] = prev
		} else {
			delete(s.records, addr)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, addr string, base int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(addr, base); err != nil {
		return err
	}
	prev := s.records[addr]
	delete(s.records, addr)
	if err := s.persist(); err != nil {
		if prev != nil {
			s.records[addr] = prev
		}
		return err
	}
	return nil
}

func (s *FileStore) checkVersion(addr string, base int64) error {
	var current int64
	if rec, ok := s.records[addr]; ok {
		current = rec.Version
	}
	if current != base {
		return &ConcurrentModificationError{Address: addr, Base: base, Current: current}
	}
	return nil
}

// persist writes the full state file durably: marshal, encrypt, write to a
// temp file, fsync, then rename over the live file.
func (s *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	s.serial++
	fs := fileState{FormatVersion: 1, Serial: s.serial}
	for _, rec := range s.records {
		fs.Records = append(fs.Records, rec)
	}

	plain, err := json.MarshalIndent(&fs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	content, err := EncryptState(plain)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Lock acquires the scope lock by creating a lock file exclusively,
// polling until LockTimeout. A lock file older than staleLockAge is
// treated as abandoned and reclaimed.
func (s *FileStore) Lock(ctx context.Context, scope string) (*LockHandle, error) {
	lockPath := s.lockPath(scope)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	token := fmt.Sprintf("pid=%d time=%s", os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano))
	deadline := time.Now().Add(s.LockTimeout)

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(token + "\n")
			f.Close()
			if werr != nil {
				os.Remove(lockPath)
				return nil, fmt.Errorf("failed to write lock file: %w", werr)
			}
			return &LockHandle{Scope: scope, Token: token}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return nil, &LockTimeoutError{Scope: scope, Timeout: s.LockTimeout}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (s *FileStore) Unlock(handle *LockHandle) error {
	if handle == nil {
		return fmt.Errorf("nil lock handle")
	}
	lockPath := s.lockPath(handle.Scope)
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) lockPath(scope string) string {
	return fmt.Sprintf("%s.%s.lock", s.path, scope)
}
