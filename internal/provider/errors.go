package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass splits provider failures into the two classes the engine
// cares about: transient errors are retried, permanent ones are not.
type ErrorClass int

const (
	Transient ErrorClass = iota
	Permanent
)

func (c ErrorClass) String() string {
	if c == Transient {
		return "transient"
	}
	return "permanent"
}

// Error is a classified provider failure.
type Error struct {
	Class ErrorClass
	Op    string // "create", "update", "delete", "scale", "metrics"
	Kind  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s error: %v", e.Op, e.Kind, e.Class, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transientf wraps err as a transient provider error.
func Transientf(op, kind string, err error) error {
	return &Error{Class: Transient, Op: op, Kind: kind, Err: err}
}

// Permanentf wraps err as a permanent provider error.
func Permanentf(op, kind string, err error) error {
	return &Error{Class: Permanent, Op: op, Kind: kind, Err: err}
}

// IsTransient reports whether an error should be retried. Classified
// errors are trusted; for anything else we fall back to matching common
// cloud API throttling and network failure messages.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Class == Transient
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"request limit",
	"service unavailable",
	"internal server error",
	"connection reset",
	"connection refused",
	"timeout",
	"tls handshake",
	"i/o timeout",
	"temporary failure",
}
