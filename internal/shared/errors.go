package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks input rejected before any write happened.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a concurrent state change or a held lock.
	ErrConflict = errors.New("conflict")
	// ErrForbidden indicates the actor role may not perform the action.
	ErrForbidden = errors.New("forbidden")
	// ErrPartialApplication marks a batch whose writes were only partly applied.
	ErrPartialApplication = errors.New("batch partially applied")
)
