package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrVersionConflict   = errors.New("version conflict")
	ErrMarkerInProgress  = errors.New("message is being processed")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InvalidTransitionError carries the rejected from/to pair.
type InvalidTransitionError struct {
	From TicketStatus
	To   TicketStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
