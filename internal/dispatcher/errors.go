package dispatcher

import (
	"errors"
	"fmt"

	"github.com/goatkit/controlroom/internal/repository"
)

var (
	// ErrStaleSubmission is returned when a guest submits data for a stage
	// the session has already left. Callers report success to the user.
	ErrStaleSubmission = errors.New("submission is for a stage the session has left")

	// ErrInvalidPayload wraps schema and argument violations.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrBusy is returned when the version guard keeps failing.
	ErrBusy = fmt.Errorf("session is being modified concurrently: %w", repository.ErrVersionConflict)
)

// PermissionError reports that an actor may not run an operation on a
// session.
type PermissionError struct {
	Actor string
	Op    string
	// Elevated is set when the operation needs the admin role rather than
	// ownership of the session.
	Elevated bool
}

func (e *PermissionError) Error() string {
	if e.Elevated {
		return fmt.Sprintf("%s requires an elevated role (actor %q)", e.Op, e.Actor)
	}
	return fmt.Sprintf("actor %q is not allowed to %s this session", e.Actor, e.Op)
}

func invalidPayload(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
}
