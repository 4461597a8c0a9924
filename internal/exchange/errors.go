package exchange

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Callers match them with errors.Is.
var (
	// ErrValidation marks malformed input or an unknown CRN. Nothing was queued.
	ErrValidation = errors.New("validation error")

	// ErrStateConflict marks an entity already moved on by a concurrent operation.
	ErrStateConflict = errors.New("state conflict")

	// ErrInvalidState is the StateConflict reported to a caller acting on an
	// entity that is no longer in the state the action requires.
	ErrInvalidState = fmt.Errorf("%w: invalid state", ErrStateConflict)

	// ErrQueueCapExceeded means the student already holds the maximum number
	// of non-terminal requests.
	ErrQueueCapExceeded = errors.New("queue cap exceeded")

	// ErrNotFound means no offer, request or match with that id is visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrRateLimited means a daily submission limit was reached.
	ErrRateLimited = errors.New("rate limited")

	// ErrDuplicate means the student already has a live offer or request for the course.
	ErrDuplicate = errors.New("duplicate submission")

	// ErrInvariant marks internal state that breaks an engine invariant. The
	// operation that found it was aborted without changing anything.
	ErrInvariant = errors.New("invariant violation")
)
