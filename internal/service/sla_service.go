package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/events"
	"github.com/deskflow/helpdesk-engine/internal/observability"
)

// SweepResult summarizes one breach sweep.
type SweepResult struct {
	Scanned  int
	Breaches int
	Failures int
}

// SLAService flags tickets whose SLA deadlines passed.
type SLAService struct {
	m     *mutator
	batch int
}

// NewSLAService creates the sweeper over the ticket store.
func NewSLAService(tickets *TicketService, batch int) *SLAService {
	if batch <= 0 {
		batch = 200
	}
	m := tickets.mutator
	m.logger = tickets.logger.Named("sla")
	return &SLAService{m: &m, batch: batch}
}

// Sweep stamps breach flags and records one sla_breached event per newly
// breached boundary. A failing ticket is logged and skipped.
func (s *SLAService) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	now = now.UTC()
	var result SweepResult
	candidates, err := s.m.tickets.ListBreachCandidates(ctx, now, s.batch)
	if err != nil {
		return result, err
	}
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		breaches, err := s.flag(ctx, candidate.ID, now)
		if err != nil {
			result.Failures++
			s.m.metrics.Inc(observability.CounterSweepFailures)
			s.m.logger.Warn("sla sweep skipped ticket",
				zap.String("ticket_id", candidate.ID),
				zap.Int64("ticket_number", candidate.Number),
				zap.Error(err))
			continue
		}
		result.Breaches += breaches
	}
	if result.Breaches > 0 || result.Failures > 0 {
		s.m.logger.Info("sla sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("breaches", result.Breaches),
			zap.Int("failures", result.Failures))
	}
	return result, nil
}

// flag re-reads the ticket so a reply or resolution that landed after the
// candidate query is honored.
func (s *SLAService) flag(ctx context.Context, ticketID string, now time.Time) (int, error) {
	var breaches int
	err := s.m.transact(ctx, func(ctx context.Context, cs *changeSet) error {
		breaches = 0
		ticket, err := s.m.load(ctx, ticketID)
		if err != nil {
			return err
		}
		if !ticket.IsOpen() {
			return nil
		}
		var hit []domain.SLABoundary
		if ticket.FirstResponseBreachedAt == nil && ticket.FirstResponseAt == nil && passed(ticket.FirstResponseDue, now) {
			ticket.FirstResponseBreachedAt = &now
			hit = append(hit, domain.SLABoundaryFirstResponse)
		}
		if ticket.ResolutionBreachedAt == nil && passed(ticket.ResolutionDue, now) {
			ticket.ResolutionBreachedAt = &now
			hit = append(hit, domain.SLABoundaryResolution)
		}
		if len(hit) == 0 {
			return nil
		}
		if err := s.m.save(ctx, ticket, now); err != nil {
			return err
		}
		for _, boundary := range hit {
			due := ticket.FirstResponseDue
			if boundary == domain.SLABoundaryResolution {
				due = ticket.ResolutionDue
			}
			cs.record(ticket, domain.EventKindSLABreached, domain.SystemActor, now,
				map[string]any{"boundary": string(boundary), "due": due.UTC().Format(time.RFC3339)},
				events.EventTicketSLABreached,
				events.TicketSLABreachedPayload{Boundary: boundary, Due: *due, Priority: ticket.Priority, Subject: ticket.Subject})
		}
		breaches = len(hit)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.m.metrics.Add(observability.CounterSLABreaches, int64(breaches))
	return breaches, nil
}

func passed(due *time.Time, now time.Time) bool {
	return due != nil && !due.After(now)
}
