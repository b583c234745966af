// Package apperr defines the error taxonomy shared by the storage layer and
// the API surface. Every failed write resolves to exactly one of these kinds
// so the UI can decide between "fix your input", "thread is closed" and
// "retry later" without parsing error strings.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad or missing input, rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrConversationClosed marks a write against a closed conversation.
	ErrConversationClosed = errors.New("conversation is closed")
	// ErrConflict marks a concurrent-writer race. Storage resolves these
	// last-write-wins, so callers normally never see this kind.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrTransport marks a failed feed subscription or store round-trip.
	// Recoverable by resubscribe/resync or caller retry.
	ErrTransport = errors.New("transport failure")
)

// Validationf wraps ErrValidation with context about the rejected field.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// Transportf wraps ErrTransport with the underlying cause.
func Transportf(cause error, op string) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, op, cause)
}

// IsRetryable reports whether the caller may retry the operation as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}
