package service

import (
	"time"

	"github.com/deskflow/helpdesk-engine/internal/domain"
)

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusNew:             {domain.TicketStatusAck, domain.TicketStatusInProgress, domain.TicketStatusClosed},
	domain.TicketStatusAck:             {domain.TicketStatusInProgress, domain.TicketStatusWaitingCustomer, domain.TicketStatusClosed},
	domain.TicketStatusInProgress:      {domain.TicketStatusWaitingCustomer, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusWaitingCustomer: {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusResolved:        {domain.TicketStatusClosed, domain.TicketStatusInProgress},
	domain.TicketStatusClosed:          {domain.TicketStatusInProgress},
}

// CanTransition reports whether the lifecycle allows moving from current to next.
func CanTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// AllowedTransitions lists the statuses reachable from current.
func AllowedTransitions(current domain.TicketStatus) []domain.TicketStatus {
	return append([]domain.TicketStatus(nil), allowedTransitions[current]...)
}

// transition moves ticket to next and applies the lifecycle side effects.
func transition(ticket *domain.Ticket, next domain.TicketStatus, now time.Time) (domain.TicketStatus, error) {
	from := ticket.Status
	if !CanTransition(from, next) {
		return from, &domain.InvalidTransitionError{From: from, To: next}
	}
	ticket.Status = next
	switch next {
	case domain.TicketStatusResolved:
		ticket.ResolvedAt = &now
	case domain.TicketStatusClosed:
		ticket.ClosedAt = &now
	case domain.TicketStatusInProgress:
		if from == domain.TicketStatusResolved || from == domain.TicketStatusClosed {
			ticket.ResolvedAt = nil
			ticket.ClosedAt = nil
		}
	}
	return from, nil
}
