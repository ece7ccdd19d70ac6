// Package errkind classifies failures seen while monitoring domains so callers
// can pick the right recovery policy without string matching.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind is the category of a monitoring error.
type Kind string

const (
	// KindTransport covers network failures talking to the resolver, the
	// store, or the notifier. Always retryable on a later tick.
	KindTransport Kind = "transport"
	// KindIntegrity covers malformed data read back from the store. The
	// corrupt key is treated as absent.
	KindIntegrity Kind = "integrity"
	// KindValidation covers bad input from the command surface.
	KindValidation Kind = "validation"
	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// Base errors for errors.Is checks.
var (
	ErrTimeout      = errors.New("timeout")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// Error is a structured monitoring error.
type Error struct {
	Kind      Kind
	Op        string // operation that failed, e.g. "resolve_a", "store_get"
	Domain    string // domain being processed, if any
	Err       error
	Timestamp time.Time
	Retryable bool
}

func (e *Error) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Domain, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the base sentinel errors against the error kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTransport && isTimeout(e.Err)
	case ErrInvalidInput:
		return e.Kind == KindValidation
	}
	return errors.Is(e.Err, target)
}

// New wraps err with a kind and operation context.
func New(kind Kind, op string, err error) *Error {
	return &Error{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: kind == KindTransport,
	}
}

// NewDomain wraps err with domain context attached.
func NewDomain(kind Kind, op, domain string, err error) *Error {
	e := New(kind, op, err)
	e.Domain = domain
	return e
}

// Transport reports whether err is a transport-class failure.
func Transport(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == KindTransport
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Integrity reports whether err is a malformed-stored-data failure.
func Integrity(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == KindIntegrity
}

// Validation reports whether err is a bad-input failure.
func Validation(err error) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == KindValidation
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
