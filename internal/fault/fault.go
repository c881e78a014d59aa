// Package fault defines the error taxonomy shared by all sitemirror
// components. Callers branch with errors.Is against the sentinels; packages
// add context with fmt.Errorf("...: %w", ...) wrapping.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing caller input. Not retryable.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an absent job, checkpoint, version or report.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks operations that lose a race or target an invalid
	// state, e.g. rolling back to the already-active version.
	ErrConflict = errors.New("conflict")

	// ErrExternalUnavailable marks a renderer or render target that could
	// not be reached within its timeout. Retryable by the caller.
	ErrExternalUnavailable = errors.New("external collaborator unavailable")

	// ErrPersistence marks a store write that failed. Fatal to the current
	// operation; the operation must not leave partial state behind.
	ErrPersistence = errors.New("persistence failure")

	// ErrCorruptState marks durable state that exists but cannot be
	// decoded, e.g. a checkpoint with an unknown phase variant.
	ErrCorruptState = errors.New("corrupt state")

	// ErrImmutable marks mutation attempts against append-only records.
	// Version deletion always fails with this.
	ErrImmutable = errors.New("versions are immutable and cannot be deleted")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}
