package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/events"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

// MergedIntoField is the custom field that points a merged ticket at its target.
const MergedIntoField = "merged_into"

// MergeTickets closes source and folds it into target. Both tickets get a
// merged event and target gets an internal note naming the source.
func (s *TicketService) MergeTickets(ctx context.Context, sourceID, targetID string, actor domain.Actor) (*domain.Ticket, error) {
	if sourceID == targetID {
		return nil, apperrors.NewValidationError("cannot merge a ticket into itself", map[string]any{"ticket_id": sourceID})
	}
	now := s.clock()
	var merged *domain.Ticket
	err := s.transact(ctx, func(ctx context.Context, cs *changeSet) error {
		source, err := s.load(ctx, sourceID)
		if err != nil {
			return err
		}
		target, err := s.load(ctx, targetID)
		if err != nil {
			return err
		}
		if into, ok := source.CustomFields[MergedIntoField]; ok {
			return apperrors.NewConflict("ticket was already merged", map[string]any{"merged_into": into})
		}
		if into, ok := target.CustomFields[MergedIntoField]; ok {
			return apperrors.NewConflict("target ticket was merged elsewhere", map[string]any{"merged_into": into})
		}

		from, err := transition(source, domain.TicketStatusClosed, now)
		if err != nil {
			return err
		}
		fields := make(map[string]any, len(source.CustomFields)+1)
		for k, v := range source.CustomFields {
			fields[k] = v
		}
		fields[MergedIntoField] = target.ID
		source.CustomFields = fields
		if err := s.save(ctx, source, now); err != nil {
			return err
		}
		if err := s.save(ctx, target, now); err != nil {
			return err
		}

		note := &domain.TicketMessage{
			ID:        uuid.NewString(),
			TicketID:  target.ID,
			Kind:      domain.MessageKindInternalNote,
			Body:      fmt.Sprintf("Ticket #%d (%s) was merged into this ticket.", source.Number, source.Subject),
			Author:    domain.SystemAuthor,
			CreatedAt: now,
		}
		if err := s.messages.Create(ctx, note); err != nil {
			return err
		}

		recordStatusChange(cs, source, from, actor, now, "merged")
		meta := map[string]any{
			"source_id":     source.ID,
			"source_number": source.Number,
			"target_id":     target.ID,
			"target_number": target.Number,
		}
		payload := events.TicketMergedPayload{SourceID: source.ID, TargetID: target.ID}
		cs.record(source, domain.EventKindMerged, actor, now, meta, events.EventTicketMerged, payload)
		cs.record(target, domain.EventKindMerged, actor, now, meta, events.EventTicketMerged, payload)
		merged = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// SplitTicket opens a new ticket seeded from one message of an existing
// ticket. The message is copied; the original thread is left intact.
func (s *TicketService) SplitTicket(ctx context.Context, ticketID, messageID string, actor domain.Actor) (*domain.Ticket, error) {
	seed, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if seed.TicketID != ticketID {
		return nil, apperrors.NewValidationError("message does not belong to ticket", map[string]any{
			"ticket_id":  ticketID,
			"message_id": messageID,
		})
	}
	number, err := s.sequence.Allocate(ctx, s.org)
	if err != nil {
		return nil, fmt.Errorf("allocate ticket number: %w", err)
	}

	now := s.clock()
	var created *domain.Ticket
	err = s.transact(ctx, func(ctx context.Context, cs *changeSet) error {
		source, err := s.load(ctx, ticketID)
		if err != nil {
			return err
		}
		ticket := &domain.Ticket{
			ID:             uuid.NewString(),
			OrganizationID: s.org,
			Number:         number,
			Subject:        source.Subject,
			Description:    seed.Body,
			Status:         domain.TicketStatusNew,
			Priority:       source.Priority,
			Type:           source.Type,
			Channel:        source.Channel,
			Team:           source.Team,
			CompanyID:      source.CompanyID,
			ContactID:      source.ContactID,
			OrderID:        source.OrderID,
			RequesterName:  source.RequesterName,
			RequesterEmail: source.RequesterEmail,
			Tags:           append([]string(nil), source.Tags...),
			CustomFields:   map[string]any{"split_from": source.ID},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		s.policies.Table().Apply(ticket, now)

		copied := &domain.TicketMessage{
			ID:          uuid.NewString(),
			TicketID:    ticket.ID,
			Kind:        seed.Kind,
			Body:        seed.Body,
			HTMLBody:    seed.HTMLBody,
			Author:      seed.Author,
			Attachments: seed.Attachments,
			CreatedAt:   now,
		}
		if copied.IsFirstResponse() {
			ticket.FirstResponseAt = &now
		}
		if err := s.tickets.Create(ctx, ticket); err != nil {
			return err
		}
		if err := s.messages.Create(ctx, copied); err != nil {
			return err
		}
		if err := s.save(ctx, source, now); err != nil {
			return err
		}

		meta := map[string]any{
			"source_id":  source.ID,
			"new_id":     ticket.ID,
			"new_number": ticket.Number,
			"message_id": seed.ID,
		}
		payload := events.TicketSplitPayload{SourceID: source.ID, NewID: ticket.ID, MessageID: seed.ID}
		cs.publish(ticket, events.EventTicketCreated, actor, now, events.TicketCreatedPayload{
			Subject:   ticket.Subject,
			Priority:  ticket.Priority,
			Channel:   ticket.Channel,
			CompanyID: ticket.CompanyID,
		})
		cs.record(source, domain.EventKindSplit, actor, now, meta, events.EventTicketSplit, payload)
		cs.record(ticket, domain.EventKindSplit, actor, now, meta, events.EventTicketSplit, payload)
		created = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(observability.CounterTicketsCreated)
	return created, nil
}
