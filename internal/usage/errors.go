package usage

import (
	"errors"
	"fmt"

	"github.com/goodtune/screentime/internal/catalog"
	"github.com/goodtune/screentime/internal/storage"
)

var (
	// ErrNotFound is returned for unknown profiles, sessions and titles
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when the caller does not own the profile or
	// the session belongs to another profile
	ErrForbidden = errors.New("forbidden")

	// ErrPINRequired is returned when a sensitive config field is changed
	// without a recently verified PIN
	ErrPINRequired = errors.New("recent PIN verification required")

	// ErrSessionEnded is returned for heartbeats naming an ended session
	ErrSessionEnded = errors.New("session has ended")
)

// ValidationError identifies the input field that failed validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsStorageFault reports whether err is an infrastructure failure rather
// than one of the caller-facing errors above
func IsStorageFault(err error) bool {
	var verr *ValidationError
	switch {
	case err == nil,
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrPINRequired),
		errors.Is(err, ErrSessionEnded),
		errors.As(err, &verr):
		return false
	}
	return true
}

// lookupError translates storage and catalog misses into ErrNotFound
func lookupError(kind, id string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, catalog.ErrUnknownTitle):
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	case errors.Is(err, storage.ErrSessionEnded):
		return fmt.Errorf("%w: %s", ErrSessionEnded, id)
	default:
		return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}
}
