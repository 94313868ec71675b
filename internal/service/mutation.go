package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/events"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	"github.com/deskflow/helpdesk-engine/internal/repository"
)

// TxRunner runs fn in a transaction. Nested calls join the outer transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// changeSet collects the audit events of one attempt and the bus events to
// publish once it commits.
type changeSet struct {
	recorded  []domain.TicketEvent
	published []events.Event
}

// record appends a timeline event and its bus counterpart.
func (c *changeSet) record(ticket *domain.Ticket, kind domain.EventKind, actor domain.Actor, at time.Time, meta map[string]any, busType events.EventType, payload any) {
	c.recorded = append(c.recorded, domain.TicketEvent{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		Kind:      kind,
		Actor:     actor,
		Meta:      meta,
		CreatedAt: at,
	})
	c.publish(ticket, busType, actor, at, payload)
}

// publish queues a bus-only event.
func (c *changeSet) publish(ticket *domain.Ticket, busType events.EventType, actor domain.Actor, at time.Time, payload any) {
	c.published = append(c.published, events.Event{
		ID:           uuid.NewString(),
		Type:         busType,
		TicketID:     ticket.ID,
		TicketNumber: ticket.Number,
		Actor:        actor,
		Timestamp:    at,
		Payload:      payload,
	})
}

// mutator applies ticket mutations with optimistic locking. An attempt that
// hits domain.ErrVersionConflict is rolled back and replayed from a fresh
// read, up to attempts times.
type mutator struct {
	tickets    repository.TicketRepository
	events     repository.TicketEventRepository
	tx         TxRunner
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	attempts   int
	now        func() time.Time
}

func (m *mutator) clock() time.Time {
	if m.now != nil {
		return m.now().UTC()
	}
	return time.Now().UTC()
}

// transact runs fn in a transaction, stores the events fn recorded and
// publishes them after commit.
func (m *mutator) transact(ctx context.Context, fn func(ctx context.Context, cs *changeSet) error) error {
	var committed *changeSet
	attempt := func() error {
		cs := &changeSet{}
		err := m.tx.RunInTx(ctx, func(ctx context.Context) error {
			if err := fn(ctx, cs); err != nil {
				return err
			}
			for i := range cs.recorded {
				if err := m.events.Create(ctx, &cs.recorded[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if errors.Is(err, domain.ErrVersionConflict) {
			m.metrics.Inc(observability.CounterVersionConflicts)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		committed = cs
		return nil
	}

	attempts := m.attempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		m.logger.Debug("ticket update conflicted, retrying", zap.Duration("wait", wait), zap.Error(err))
	}
	if err := backoff.RetryNotify(attempt, b, notify); err != nil {
		return err
	}
	m.dispatch(ctx, committed.published)
	return nil
}

// load reads the ticket inside the current transaction.
func (m *mutator) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return m.tickets.GetByID(ctx, ticketID)
}

// save stamps updated_at and writes the ticket with a version check.
func (m *mutator) save(ctx context.Context, ticket *domain.Ticket, now time.Time) error {
	ticket.UpdatedAt = now
	return m.tickets.Update(ctx, ticket)
}

func (m *mutator) dispatch(ctx context.Context, published []events.Event) {
	if m.dispatcher == nil {
		return
	}
	for _, event := range published {
		if err := m.dispatcher.Publish(ctx, event); err != nil {
			m.logger.Warn("event handler failed",
				zap.String("event_type", string(event.Type)),
				zap.String("ticket_id", event.TicketID),
				zap.Error(err))
		}
	}
}
