package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopforge-io/shopforge/internal/ir"
)

// ErrNotFound is returned by Get for an address with no record.
var ErrNotFound = errors.New("state record not found")

// ConcurrentModificationError is returned by Put or Delete when the given
// base version no longer matches the stored record.
type ConcurrentModificationError struct {
	Address string
	Base    int64
	Current int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("concurrent modification of %s: base version %d, stored version %d",
		e.Address, e.Base, e.Current)
}

// LockTimeoutError is returned by Lock when the scope lock could not be
// acquired within the configured timeout.
type LockTimeoutError struct {
	Scope   string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for lock on scope %q", e.Timeout, e.Scope)
}

// LockHandle identifies one successful Lock acquisition.
type LockHandle struct {
	Scope string
	Token string
}

// Store is the durable record of last-known resource state. Records are
// keyed by resource address. All mutation is versioned: a Put or Delete
// carries the version the caller last read (0 for a new record) and fails
// with ConcurrentModificationError on mismatch. Lock/Unlock give a whole
// apply run exclusive access to a scope.
type Store interface {
	Get(ctx context.Context, addr string) (*ir.StateRecord, error)
	List(ctx context.Context) ([]*ir.StateRecord, error)

	// Put writes rec at version base+1. Every successful write is durable
	// before Put returns.
	Put(ctx context.Context, rec *ir.StateRecord, base int64) error

	// Delete removes the record at addr, checking base like Put.
	Delete(ctx context.Context, addr string, base int64) error

	Lock(ctx context.Context, scope string) (*LockHandle, error)
	Unlock(handle *LockHandle) error

	Close() error
}
