package room

import (
	"errors"
	"fmt"
)

// Command rejection sentinels. These are reported only to the command's
// originator; they never produce a broadcast and never mutate state.
var (
	// ErrNotFound signals an absent room, track or participant.
	ErrNotFound = errors.New("not found")
	// ErrForbidden signals an authorization failure, e.g. a non-host
	// changing permissions or a non-controller enqueuing.
	ErrForbidden = errors.New("forbidden")
	// ErrNotParticipant signals a command from a user who has not joined
	// the room. It unwraps to ErrForbidden.
	ErrNotParticipant = fmt.Errorf("%w: not a room participant", ErrForbidden)
	// ErrInvalidCommand signals malformed identifiers or payloads.
	ErrInvalidCommand = errors.New("invalid command")

	// errRoomStopped is internal: the actor has exited and the command
	// must be resubmitted through the registry.
	errRoomStopped = errors.New("room stopped")
)

// PersistenceError wraps an external-store failure. The command it
// aborted did not apply at all; the scheduler treats it as retryable.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence failure: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistence reports whether err is a persistence failure.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
