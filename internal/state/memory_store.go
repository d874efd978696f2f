package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopforge-io/shopforge/internal/ir"
)

// MemoryStore is an in-memory Store used by tests and the local provider
// development loop. It honors the full versioning and locking contract.
type MemoryStore struct {
	mu          sync.Mutex
	records     map[string]*ir.StateRecord
	locks       map[string]chan struct{} // scope -> held marker
	tokens      map[string]string        // scope -> holder token
	LockTimeout time.Duration
	nextToken   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]*ir.StateRecord),
		locks:       make(map[string]chan struct{}),
		tokens:      make(map[string]string),
		LockTimeout: 10 * time.Second,
	}
}

func (s *MemoryStore) Get(ctx context.Context, addr string) (*ir.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*ir.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ir.StateRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *ir.StateRecord, base int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := rec.Address()
	if err := s.checkVersion(addr, base); err != nil {
		return err
	}

	stored := rec.Clone()
	stored.Version = base + 1
	s.records[addr] = stored
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, addr string, base int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(addr, base); err != nil {
		return err
	}
	delete(s.records, addr)
	return nil
}

func (s *MemoryStore) checkVersion(addr string, base int64) error {
	var current int64
	if rec, ok := s.records[addr]; ok {
		current = rec.Version
	}
	if current != base {
		return &ConcurrentModificationError{Address: addr, Base: base, Current: current}
	}
	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, scope string) (*LockHandle, error) {
	s.mu.Lock()
	ch, ok := s.locks[scope]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[scope] = ch
	}
	timeout := s.LockTimeout
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &LockTimeoutError{Scope: scope, Timeout: timeout}
	}

	s.mu.Lock()
	s.nextToken++
	token := fmt.Sprintf("mem-%d", s.nextToken)
	s.tokens[scope] = token
	s.mu.Unlock()

	return &LockHandle{Scope: scope, Token: token}, nil
}

func (s *MemoryStore) Unlock(handle *LockHandle) error {
	if handle == nil {
		return fmt.Errorf("nil lock handle")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens[handle.Scope] != handle.Token {
		return fmt.Errorf("lock on scope %q not held by this handle", handle.Scope)
	}
	delete(s.tokens, handle.Scope)
	<-s.locks[handle.Scope]
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
