package service

import (
	"context"
	"strings"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/events"
)

// AssignmentService handles ticket ownership changes.
type AssignmentService struct {
	m *mutator
}

// AssignInput is the desired owner and team; nil clears the field.
type AssignInput struct {
	OwnerID *string
	Team    *string
}

// NewAssignmentService creates the service on top of the ticket store.
func NewAssignmentService(tickets *TicketService) *AssignmentService {
	return &AssignmentService{m: &tickets.mutator}
}

// Assign sets owner and team. An unchanged assignment records nothing.
func (s *AssignmentService) Assign(ctx context.Context, ticketID string, input AssignInput, actor domain.Actor) (*domain.Ticket, error) {
	owner := trimmedOrNil(input.OwnerID)
	team := trimmedOrNil(input.Team)
	now := s.m.clock()

	var updated *domain.Ticket
	err := s.m.transact(ctx, func(ctx context.Context, cs *changeSet) error {
		ticket, err := s.m.load(ctx, ticketID)
		if err != nil {
			return err
		}
		updated = ticket
		if equalPtr(ticket.OwnerID, owner) && equalPtr(ticket.Team, team) {
			return nil
		}
		meta := map[string]any{
			"from": map[string]any{"owner_id": deref(ticket.OwnerID), "team": deref(ticket.Team)},
			"to":   map[string]any{"owner_id": deref(owner), "team": deref(team)},
		}
		ticket.OwnerID = owner
		ticket.Team = team
		if err := s.m.save(ctx, ticket, now); err != nil {
			return err
		}
		cs.record(ticket, domain.EventKindAssigned, actor, now, meta,
			events.EventTicketAssigned,
			events.TicketAssignedPayload{OwnerID: owner, Team: team})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
