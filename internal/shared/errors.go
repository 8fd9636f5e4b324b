package shared

import "errors"

var (
	// ErrNotFound classifies missing resources.
	ErrNotFound = errors.New("not found")
	// ErrConflict classifies requests rejected by the current resource state.
	ErrConflict = errors.New("conflict")
	// ErrValidation classifies malformed input.
	ErrValidation = errors.New("validation failed")
)

// kindError is a sentinel that also matches its classification with errors.Is.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// NotFoundError returns a sentinel classified as ErrNotFound.
func NotFoundError(msg string) error { return &kindError{msg: msg, kind: ErrNotFound} }

// ConflictError returns a sentinel classified as ErrConflict.
func ConflictError(msg string) error { return &kindError{msg: msg, kind: ErrConflict} }

// ValidationError returns a sentinel classified as ErrValidation.
func ValidationError(msg string) error { return &kindError{msg: msg, kind: ErrValidation} }
