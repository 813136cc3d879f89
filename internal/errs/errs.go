// Package errs defines the error taxonomy of the import engine.
//
// A ValidationError is something the user can fix: a bad directory, an
// ill-shaped manifest, a lint failure, a library version below the hard
// minimum. A RuntimeError is an engine-side failure whose message embeds
// enough context (command line, working directory, captured output) to
// diagnose without rerunning. Both unwind to the invocation boundary
// without local recovery.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError aborts the current package's import and is surfaced
// verbatim to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validationf creates a ValidationError with a formatted message.
func Validationf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// RuntimeError aborts the current package's import. The message carries the
// diagnostic context; Err optionally preserves the underlying cause.
type RuntimeError struct {
	Message string
	Err     error
}

func (e *RuntimeError) Error() string { return e.Message }

func (e *RuntimeError) Unwrap() error { return e.Err }

// Runtimef creates a RuntimeError with a formatted message.
func Runtimef(format string, args ...any) error {
	return &RuntimeError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsRuntime reports whether err is (or wraps) a RuntimeError.
func IsRuntime(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}
