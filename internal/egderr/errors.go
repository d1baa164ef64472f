// Package egderr classifies daemon failures per spec §7: every error
// carries a category (temporary | permanent | fatal), a component tag, a
// stable code, a human message, and an optional underlying cause. The
// shape is lifted from the pack's storage-error classifier (sentinel
// kinds plus a wrapping struct implementing Unwrap/Is) and generalized
// from storage-only failures to every component in the daemon.
package egderr

import (
	"errors"
	"fmt"
)

// Category is one of the three failure classes spec §7 defines.
type Category string

const (
	// Temporary failures are recovered locally: the cycle fails, the
	// failure counter increments, and the daemon keeps running.
	Temporary Category = "temporary"
	// Permanent failures are per-source terminal once the failure
	// threshold is reached, but do not affect the rest of the daemon.
	Permanent Category = "permanent"
	// Fatal failures abort startup or force a non-zero shutdown.
	Fatal Category = "fatal"
)

// Sentinel codes for errors.Is-style comparison across the daemon.
var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrLockConflict      = errors.New("daemon already running")
	ErrPortInUse         = errors.New("control port in use")
	ErrStorageDenied     = errors.New("storage permission denied")
	ErrStorageCorrupted  = errors.New("persisted pool is corrupted")
	ErrFetchTimeout      = errors.New("fetch timed out")
	ErrFetchShortBody    = errors.New("fetch body shorter than min_size")
	ErrFetchNotFound     = errors.New("source not found")
	ErrCommandNotFound   = errors.New("command not found")
	ErrScriptTimeout     = errors.New("script exceeded wall clock")
	ErrScriptStdoutLimit = errors.New("script stdout exceeded cap")
	ErrSourceDisabled    = errors.New("source disabled after repeated failures")
)

// Error wraps an underlying error with spec §7 classification.
type Error struct {
	Category  Category
	Component string
	Code      error // one of the sentinels above, for errors.Is
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Component, e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Component, e.Category, e.Message)
}

// Unwrap exposes the underlying cause for errors.As/errors.Is traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the error matches the target sentinel code.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Code, target)
}

// New constructs a classified error.
func New(category Category, component string, code error, message string, cause error) *Error {
	return &Error{Category: category, Component: component, Code: code, Message: message, Cause: cause}
}

// Temp is shorthand for New(Temporary, ...).
func Temp(component string, code error, message string, cause error) *Error {
	return New(Temporary, component, code, message, cause)
}

// Perm is shorthand for New(Permanent, ...).
func Perm(component string, code error, message string, cause error) *Error {
	return New(Permanent, component, code, message, cause)
}

// FatalErr is shorthand for New(Fatal, ...).
func FatalErr(component string, code error, message string, cause error) *Error {
	return New(Fatal, component, code, message, cause)
}

// CategoryOf returns the category of err if it is (or wraps) an *Error,
// defaulting to Temporary for unclassified errors so that callers not yet
// updated to typed errors still degrade gracefully instead of crashing.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return Temporary
}
