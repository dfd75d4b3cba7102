// Package errs defines the error taxonomy shared by the remote connection and
// mount components.
//
// Expected network outcomes (host unreachable, port closed) are never errors;
// they are encoded in probe results. The types here describe conditions a
// caller has to act on: malformed input, unknown names, storage failures and
// OS-level mount failures.
package errs

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// ValidationError reports a malformed connection record or mount argument.
// It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is a shorthand constructor for ValidationError.
func Invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DuplicateError is returned when a connection name is already taken.
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("connection %q already exists", e.Name)
}

// NotFoundError is returned for an unknown connection name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("connection %q not found", e.Name)
}

// NetworkTimeoutError reports a subprocess or socket operation that exceeded
// its bound.
type NetworkTimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *NetworkTimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
	}
	return e.Op + " timed out"
}

// MountError reports an OS-level mount or unmount failure. Output carries the
// (truncated) diagnostic text of the failing command.
type MountError struct {
	Op     string
	Target string
	Output string
	Err    error
}

func (e *MountError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Op, e.Target)
	if e.Output != "" {
		msg += ": " + e.Output
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MountError) Unwrap() error { return e.Err }

// PersistenceError is returned when the registry file cannot be read or
// written. A lost save is never silent.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is, or wraps, a NetworkTimeoutError.
func IsTimeout(err error) bool {
	var te *NetworkTimeoutError
	return errors.As(err, &te)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Truncate shortens s to at most max bytes without splitting a UTF-8
// sequence, appending "..." when something was cut.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
