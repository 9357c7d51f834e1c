// Package kverrors implements the error taxonomy every engine in this
// module surfaces: Io, LockPoisoned, InvalidInput, InvalidData and a
// generic Wrapped context-carrying kind. Shaped after
// iamNilotpal-ignite/pkg/errors's baseError/ErrorCode split, rebuilt
// around the kinds the storage spec names instead of ignite's
// HTTP-flavored codes.
package kverrors

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Kind categorizes a storage error so callers can branch on it with
// errors.Is / errors.As instead of parsing messages.
type Kind string

const (
	KindIo            Kind = "IO"
	KindLockPoisoned  Kind = "LOCK_POISONED"
	KindInvalidInput  Kind = "INVALID_INPUT"
	KindInvalidData   Kind = "INVALID_DATA"
	KindWrapped       Kind = "WRAPPED"
)

// Error is the concrete error type returned by every package in this
// module. It always carries a Kind and a human-readable message, and may
// wrap an underlying cause.
type Error struct {
	kind    Kind
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.message)
}

// Unwrap exposes the underlying cause so errors.Is / errors.As traverse
// the chain.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the error's category.
func (e *Error) Kind() Kind { return e.kind }

// Is lets errors.Is(err, kverrors.ErrIo) work by comparing kinds.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.kind == other.kind
	}
	return false
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, message: fmt.Sprintf(format, args...)}
}

// Io wraps an underlying OS/file error as a Kind-Io error.
func Io(cause error, format string, args ...any) *Error {
	return &Error{kind: KindIo, message: fmt.Sprintf(format, args...), cause: cause}
}

// LockPoisoned reports a poisoned-lock condition: fatal for the affected
// operation, never swallowed.
func LockPoisoned(format string, args ...any) *Error {
	return newf(KindLockPoisoned, format, args...)
}

// InvalidInput reports a bad key/value supplied at write time. The engine
// is left unchanged.
func InvalidInput(format string, args ...any) *Error {
	return newf(KindInvalidInput, format, args...)
}

// InvalidData reports a malformed on-disk record discovered while
// reading.
func InvalidData(format string, args ...any) *Error {
	return newf(KindInvalidData, format, args...)
}

// Wrap attaches context to an arbitrary cause without claiming one of the
// more specific kinds.
func Wrap(cause error, format string, args ...any) *Error {
	return &Error{kind: KindWrapped, message: fmt.Sprintf(format, args...), cause: cause}
}

// Sentinel values usable with errors.Is for kind-only comparisons, e.g.
// errors.Is(err, kverrors.Io(nil, "")).
var (
	ErrIo           = &Error{kind: KindIo}
	ErrLockPoisoned = &Error{kind: KindLockPoisoned}
	ErrInvalidInput = &Error{kind: KindInvalidInput}
	ErrInvalidData  = &Error{kind: KindInvalidData}
)

// Of reports whether err carries the given Kind anywhere in its chain.
func Of(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.kind == kind {
			return true
		}
		err = e.cause
	}
	return false
}

// RecoverLock is deferred immediately after acquiring a lock that guards
// mutable state a mid-critical-section panic could leave inconsistent.
// Go's sync.Mutex/RWMutex, unlike Rust's, does not poison itself on a
// panicking holder, so without this the lock would simply reopen for the
// next caller over state whose invariants are no longer known to hold.
// On a recovered panic it flips poisoned permanently and writes a
// LockPoisoned error into *err; callers should check poisoned before
// attempting any further locked operation and fail closed once it is set.
func RecoverLock(err *error, poisoned *atomic.Bool) {
	if r := recover(); r != nil {
		poisoned.Store(true)
		*err = &Error{kind: KindLockPoisoned, message: fmt.Sprintf("recovered from panic while holding lock: %v", r)}
	}
}
