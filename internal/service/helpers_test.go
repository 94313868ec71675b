package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/events"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	"github.com/deskflow/helpdesk-engine/internal/repository/memory"
	"github.com/deskflow/helpdesk-engine/internal/sla"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

var testPolicies = []domain.SLAPolicy{
	{Priority: domain.TicketPriorityUrgent, FirstResponseMinutes: 30, ResolutionMinutes: 240, Active: true},
	{Priority: domain.TicketPriorityHigh, FirstResponseMinutes: 60, ResolutionMinutes: 480, Active: true},
	{Priority: domain.TicketPriorityNormal, FirstResponseMinutes: 240, ResolutionMinutes: 1440, Active: true},
	{Priority: domain.TicketPriorityLow, FirstResponseMinutes: 480, ResolutionMinutes: 2880, Active: true},
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store   *memory.Store
	tickets *TicketService
	clock   *fakeClock
	metrics *observability.Metrics

	mu        sync.Mutex
	published []events.Event
}

func newHarness(t *testing.T, opts ...func(*TicketDependencies)) *harness {
	t.Helper()
	h := &harness{
		store:   memory.NewStore(),
		clock:   &fakeClock{now: t0},
		metrics: observability.NewMetrics(),
	}
	dispatcher := events.NewInMemoryDispatcher()
	for _, eventType := range events.AllEventTypes {
		dispatcher.Subscribe(eventType, func(ctx context.Context, e events.Event) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.published = append(h.published, e)
			return nil
		})
	}
	deps := TicketDependencies{
		TicketRepo:     h.store.Tickets(),
		MessageRepo:    h.store.Messages(),
		EventRepo:      h.store.Events(),
		Sequence:       h.store.Sequence(),
		Tx:             h.store,
		Policies:       sla.NewProvider(nil, testPolicies),
		Dispatcher:     dispatcher,
		Logger:         zap.NewNop(),
		Metrics:        h.metrics,
		OrganizationID: "acme",
		UpdateAttempts: 3,
		Now:            h.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.tickets = NewTicketService(deps)
	return h
}

func (h *harness) publishedOf(eventType events.EventType) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, e := range h.published {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (h *harness) create(t *testing.T, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := h.tickets.CreateTicket(context.Background(), TicketCreateInput{
		Subject:   "Printer on fire",
		Priority:  priority,
		Requester: domain.Author{Name: "Dana", Email: "dana@customer.test", Type: domain.AuthorTypeCustomer},
		Actor:     agent.Actor(),
	})
	require.NoError(t, err)
	return ticket
}

// force writes status directly, bypassing the lifecycle table.
func (h *harness) force(t *testing.T, ticketID string, status domain.TicketStatus) {
	t.Helper()
	ctx := context.Background()
	ticket, err := h.store.Tickets().GetByID(ctx, ticketID)
	require.NoError(t, err)
	ticket.Status = status
	require.NoError(t, h.store.Tickets().Update(ctx, ticket))
}

func (h *harness) eventsOf(t *testing.T, ticketID string, kind domain.EventKind) []domain.TicketEvent {
	t.Helper()
	all, err := h.store.Events().ListByTicket(context.Background(), ticketID)
	require.NoError(t, err)
	var out []domain.TicketEvent
	for _, e := range all {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var agent = &domain.Principal{ID: "agent-1", Name: "Alex Agent", Email: "alex@support.test"}

var customer = domain.Author{ID: "dana@customer.test", Name: "Dana", Email: "dana@customer.test", Type: domain.AuthorTypeCustomer}
