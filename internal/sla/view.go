package sla

import (
	"time"

	"github.com/deskflow/helpdesk-engine/internal/domain"
)

// Remaining returns due - now. ok is false when there is no deadline.
// A negative duration means the deadline has passed.
func Remaining(due *time.Time, now time.Time) (remaining time.Duration, ok bool) {
	if due == nil {
		return 0, false
	}
	return due.Sub(now), true
}

// Clock is the derived state of one SLA boundary.
type Clock struct {
	Due       *time.Time
	Remaining *time.Duration
	Met       bool
	Breached  bool
}

// View is the display state of both SLA boundaries of a ticket.
type View struct {
	FirstResponse Clock
	Resolution    Clock
}

// ViewOf derives the SLA display state. It reads only stored timestamps.
func ViewOf(ticket *domain.Ticket, now time.Time) View {
	first := clock(ticket.FirstResponseDue, ticket.FirstResponseAt, ticket.FirstResponseBreachedAt, now)
	resolvedAt := ticket.ResolvedAt
	if resolvedAt == nil && ticket.Status == domain.TicketStatusClosed {
		resolvedAt = ticket.ClosedAt
	}
	resolution := clock(ticket.ResolutionDue, resolvedAt, ticket.ResolutionBreachedAt, now)
	return View{FirstResponse: first, Resolution: resolution}
}

func clock(due, metAt, breachedAt *time.Time, now time.Time) Clock {
	c := Clock{Due: due}
	if metAt != nil {
		c.Met = true
		c.Breached = due != nil && metAt.After(*due)
		return c
	}
	if remaining, ok := Remaining(due, now); ok {
		c.Remaining = &remaining
		c.Breached = remaining < 0
	}
	if breachedAt != nil {
		c.Breached = true
	}
	return c
}
