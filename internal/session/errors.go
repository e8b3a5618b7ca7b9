package session

import (
	"errors"
	"fmt"

	"learnsession/pkg/interfaces"
	"learnsession/pkg/types"
)

// Session management error types
var (
	ErrSessionNotFound        = interfaces.ErrSessionNotFound
	ErrObjectiveNotFound      = errors.New("objective not found")
	ErrReminderNotFound       = errors.New("break reminder not found")
	ErrInvalidTransition      = errors.New("invalid session transition")
	ErrPolicyResolutionFailed = errors.New("age policy resolution failed")
	ErrSessionClosed          = errors.New("session is closed")
	ErrInvalidInteractions    = errors.New("interaction count must be positive")
)

// Event names a lifecycle transition request
type Event string

const (
	EventStart      Event = "start"
	EventPause      Event = "pause"
	EventResume     Event = "resume"
	EventStartBreak Event = "start-break"
	EventComplete   Event = "complete"
	EventAbandon    Event = "abandon"
)

// TransitionError reports an event issued from a state that does not allow it.
// It matches ErrInvalidTransition under errors.Is.
type TransitionError struct {
	SessionID string
	From      types.SessionState
	Event     Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid session transition: cannot %s session %s in state %s", e.Event, e.SessionID, e.From)
}

// Is lets errors.Is(err, ErrInvalidTransition) match
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
