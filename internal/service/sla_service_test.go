package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/events"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	"github.com/deskflow/helpdesk-engine/internal/repository"
)

func TestSweep_FlagsEachBoundaryOnce(t *testing.T) {
	h := newHarness(t)
	sweeper := NewSLAService(h.tickets, 50)
	ctx := context.Background()
	ticket := h.create(t, domain.TicketPriorityUrgent)

	result, err := sweeper.Sweep(ctx, t0.Add(29*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)

	result, err = sweeper.Sweep(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Breaches: 1}, result)

	result, err = sweeper.Sweep(ctx, t0.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Breaches)

	result, err = sweeper.Sweep(ctx, t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Breaches)

	stored, err := h.tickets.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.FirstResponseBreachedAt)
	require.NotNil(t, stored.ResolutionBreachedAt)
	assert.Equal(t, t0.Add(30*time.Minute), *stored.FirstResponseBreachedAt)

	breaches := h.eventsOf(t, ticket.ID, domain.EventKindSLABreached)
	require.Len(t, breaches, 2)
	assert.Equal(t, "first_response", breaches[0].Meta["boundary"])
	assert.Equal(t, "resolution", breaches[1].Meta["boundary"])
	assert.Equal(t, domain.SystemActor, breaches[0].Actor)
	assert.Len(t, h.publishedOf(events.EventTicketSLABreached), 2)
	assert.Equal(t, int64(2), h.metrics.Counter(observability.CounterSLABreaches))
}

func TestSweep_FirstResponseMetOnlyResolutionBreaches(t *testing.T) {
	h := newHarness(t)
	sweeper := NewSLAService(h.tickets, 50)
	ctx := context.Background()
	ticket := h.create(t, domain.TicketPriorityUrgent)

	h.clock.Advance(10 * time.Minute)
	_, _, err := h.tickets.AddMessage(ctx, ticket.ID, MessageInput{
		Kind: domain.MessageKindPublicReply, Body: "on it", Author: agent.Author(),
	})
	require.NoError(t, err)

	result, err := sweeper.Sweep(ctx, t0.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Breaches)

	breaches := h.eventsOf(t, ticket.ID, domain.EventKindSLABreached)
	require.Len(t, breaches, 1)
	assert.Equal(t, "resolution", breaches[0].Meta["boundary"])
}

func TestSweep_IgnoresResolvedTickets(t *testing.T) {
	h := newHarness(t)
	sweeper := NewSLAService(h.tickets, 50)
	ticket := h.create(t, domain.TicketPriorityUrgent)
	h.force(t, ticket.ID, domain.TicketStatusResolved)

	result, err := sweeper.Sweep(context.Background(), t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Breaches)
	assert.Empty(t, h.eventsOf(t, ticket.ID, domain.EventKindSLABreached))
}

type failingLoads struct {
	repository.TicketRepository
	failID string
}

func (f *failingLoads) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if id == f.failID {
		return nil, errors.New("stale row")
	}
	return f.TicketRepository.GetByID(ctx, id)
}

func TestSweep_SkipsFailingTicket(t *testing.T) {
	repo := &failingLoads{}
	h := newHarness(t, func(d *TicketDependencies) {
		repo.TicketRepository = d.TicketRepo
		d.TicketRepo = repo
	})
	sweeper := NewSLAService(h.tickets, 50)
	bad := h.create(t, domain.TicketPriorityUrgent)
	good := h.create(t, domain.TicketPriorityUrgent)
	repo.failID = bad.ID

	result, err := sweeper.Sweep(context.Background(), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2, Breaches: 1, Failures: 1}, result)
	assert.Len(t, h.eventsOf(t, good.ID, domain.EventKindSLABreached), 1)
	assert.Equal(t, int64(1), h.metrics.Counter(observability.CounterSweepFailures))
}

func TestSweep_PriorityChangeRestartsClock(t *testing.T) {
	h := newHarness(t)
	sweeper := NewSLAService(h.tickets, 50)
	ctx := context.Background()
	ticket := h.create(t, domain.TicketPriorityUrgent)

	_, err := sweeper.Sweep(ctx, t0.Add(45*time.Minute))
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	updated, err := h.tickets.UpdatePriority(ctx, ticket.ID, domain.TicketPriorityLow, agent.Actor())
	require.NoError(t, err)
	assert.Nil(t, updated.FirstResponseBreachedAt)

	result, err := sweeper.Sweep(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Breaches)
}
