package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/repository"
)

func seedTicket(t *testing.T, s *Store, id string, number int64, mutate func(*domain.Ticket)) *domain.Ticket {
	t.Helper()
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(number) * time.Minute)
	ticket := &domain.Ticket{
		ID:             id,
		OrganizationID: "acme",
		Number:         number,
		Subject:        "Ticket " + id,
		Status:         domain.TicketStatusNew,
		Priority:       domain.TicketPriorityNormal,
		Channel:        domain.TicketChannelEmail,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
	if mutate != nil {
		mutate(ticket)
	}
	require.NoError(t, s.Tickets().Create(context.Background(), ticket))
	return ticket
}

func TestTickets_UniqueNumberPerOrganization(t *testing.T) {
	s := NewStore()
	seedTicket(t, s, "a", 1, nil)

	err := s.Tickets().Create(context.Background(), &domain.Ticket{ID: "b", OrganizationID: "acme", Number: 1})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	err = s.Tickets().Create(context.Background(), &domain.Ticket{ID: "c", OrganizationID: "globex", Number: 1})
	assert.NoError(t, err)
}

func TestTickets_OptimisticUpdate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	seedTicket(t, s, "a", 1, nil)

	first, err := s.Tickets().GetByID(ctx, "a")
	require.NoError(t, err)
	second, err := s.Tickets().GetByID(ctx, "a")
	require.NoError(t, err)

	first.Status = domain.TicketStatusAck
	require.NoError(t, s.Tickets().Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Status = domain.TicketStatusClosed
	assert.ErrorIs(t, s.Tickets().Update(ctx, second), domain.ErrVersionConflict)

	stored, err := s.Tickets().GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAck, stored.Status)
}

func TestTickets_ListFiltersSortsAndPages(t *testing.T) {
	s := NewStore()
	team := "billing"
	seedTicket(t, s, "a", 1, func(tk *domain.Ticket) { tk.Priority = domain.TicketPriorityLow; tk.Team = &team })
	seedTicket(t, s, "b", 2, func(tk *domain.Ticket) { tk.Priority = domain.TicketPriorityUrgent; tk.Team = &team })
	seedTicket(t, s, "c", 3, func(tk *domain.Ticket) { tk.Priority = domain.TicketPriorityHigh; tk.Team = &team })
	seedTicket(t, s, "d", 4, func(tk *domain.Ticket) { tk.Status = domain.TicketStatusClosed; tk.Team = &team })
	seedTicket(t, s, "e", 5, nil)

	tickets, total, err := s.Tickets().List(context.Background(), repository.TicketFilter{
		OrganizationID: "acme",
		Statuses:       []domain.TicketStatus{domain.TicketStatusNew},
		Team:           &team,
		SortField:      repository.SortByPriority,
		Limit:          2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, tickets, 2)
	assert.Equal(t, "b", tickets[0].ID)
	assert.Equal(t, "c", tickets[1].ID)
}

func TestTickets_SearchBySubjectOrNumber(t *testing.T) {
	s := NewStore()
	seedTicket(t, s, "a", 11, func(tk *domain.Ticket) { tk.Subject = "Printer on fire" })
	seedTicket(t, s, "b", 12, func(tk *domain.Ticket) { tk.Subject = "Invoice question" })

	hits, err := s.Tickets().Search(context.Background(), "acme", "PRINTER", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)

	hits, err = s.Tickets().Search(context.Background(), "acme", "#12", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestTickets_BreachCandidates(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	seedTicket(t, s, "overdue", 1, func(tk *domain.Ticket) { tk.FirstResponseDue = &past })
	seedTicket(t, s, "answered", 2, func(tk *domain.Ticket) { tk.FirstResponseDue = &past; tk.FirstResponseAt = &past })
	seedTicket(t, s, "flagged", 3, func(tk *domain.Ticket) { tk.ResolutionDue = &past; tk.ResolutionBreachedAt = &past })
	seedTicket(t, s, "resolved", 4, func(tk *domain.Ticket) { tk.ResolutionDue = &past; tk.Status = domain.TicketStatusResolved })
	seedTicket(t, s, "later", 5, func(tk *domain.Ticket) { tk.ResolutionDue = &future })

	got, err := s.Tickets().ListBreachCandidates(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "overdue", got[0].ID)
}

func TestMessages_ExternalIDIsUnique(t *testing.T) {
	s := NewStore()
	seedTicket(t, s, "a", 1, nil)
	ext := "provider-1"

	require.NoError(t, s.Messages().Create(context.Background(), &domain.TicketMessage{ID: "m1", TicketID: "a", ExternalID: &ext}))
	err := s.Messages().Create(context.Background(), &domain.TicketMessage{ID: "m2", TicketID: "a", ExternalID: &ext})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	msg, err := s.Messages().GetByExternalID(context.Background(), ext)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
}

func TestMarkers_Lease(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lease := 2 * time.Minute
	markers := s.Markers()

	outcome, err := markers.Claim(ctx, "m", now, lease)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAcquired, outcome)

	_, err = markers.Claim(ctx, "m", now.Add(time.Minute), lease)
	assert.ErrorIs(t, err, domain.ErrMarkerInProgress)

	outcome, err = markers.Claim(ctx, "m", now.Add(3*time.Minute), lease)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimResumed, outcome)

	require.NoError(t, markers.Finalize(ctx, "m", "t-1", now.Add(4*time.Minute)))
	outcome, err = markers.Claim(ctx, "m", now.Add(time.Hour), lease)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAlreadyProcessed, outcome)

	marker, err := markers.Get(ctx, "m")
	require.NoError(t, err)
	assert.True(t, marker.Processed)
	assert.Equal(t, "t-1", *marker.TicketID)
}

func TestMarkers_ReleaseAllowsImmediateRetry(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()

	_, err := s.Markers().Claim(ctx, "m", now, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Markers().Release(ctx, "m"))

	outcome, err := s.Markers().Claim(ctx, "m", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAcquired, outcome)
}

func TestSequence_StrictlyIncreasingPerOrganization(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.Sequence().Allocate(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := s.Sequence().Allocate(ctx, "globex")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestRunInTx_NestedCallsJoin(t *testing.T) {
	s := NewStore()
	calls := 0
	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		return s.RunInTx(ctx, func(ctx context.Context) error {
			calls++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	existing := seedTicket(t, s, "t-1", 1, nil)
	ext := "ext-1"
	require.NoError(t, s.Messages().Create(ctx, &domain.TicketMessage{ID: "m-0", TicketID: "t-1", ExternalID: &ext}))

	err := s.RunInTx(ctx, func(ctx context.Context) error {
		created := &domain.Ticket{ID: "t-2", OrganizationID: "acme", Number: 2, Status: domain.TicketStatusNew}
		if err := s.Tickets().Create(ctx, created); err != nil {
			return err
		}
		if err := s.Events().Create(ctx, &domain.TicketEvent{ID: "e-1", TicketID: "t-2", Kind: domain.EventKindStatusChanged}); err != nil {
			return err
		}
		existing.Status = domain.TicketStatusAck
		if err := s.Tickets().Update(ctx, existing); err != nil {
			return err
		}
		return s.Messages().Create(ctx, &domain.TicketMessage{ID: "m-1", TicketID: "t-2", ExternalID: &ext})
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = s.Tickets().GetByID(ctx, "t-2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Tickets().GetByNumber(ctx, "acme", 2)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	events, err := s.Events().ListByTicket(ctx, "t-2")
	require.NoError(t, err)
	assert.Empty(t, events)

	stored, err := s.Tickets().GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusNew, stored.Status)
	assert.Equal(t, int64(1), stored.Version)

	msg, err := s.Messages().GetByExternalID(ctx, ext)
	require.NoError(t, err)
	assert.Equal(t, "m-0", msg.ID)

	require.NoError(t, s.Tickets().Create(ctx, &domain.Ticket{ID: "t-2", OrganizationID: "acme", Number: 2}))
}
