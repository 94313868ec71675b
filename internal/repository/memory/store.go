// Package memory holds process-local implementations of the repository
// interfaces. It backs the engine when no database is configured and is the
// default fixture for service tests. Data does not survive a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/repository"
)

// Store keeps every ticketing table in maps guarded by one mutex.
type Store struct {
	mu         sync.RWMutex
	tickets    map[string]*domain.Ticket
	byNumber   map[numberKey]string
	messages   map[string]*domain.TicketMessage
	byExternal map[string]string
	events     map[string][]domain.TicketEvent
	markers    map[string]*domain.ProcessedMarker
	sequences  map[string]int64
	policies   []domain.SLAPolicy

	txMu sync.Mutex
	// undo holds the inverse of every write made by the running transaction.
	undo []func()
}

type numberKey struct {
	org    string
	number int64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		tickets:    make(map[string]*domain.Ticket),
		byNumber:   make(map[numberKey]string),
		messages:   make(map[string]*domain.TicketMessage),
		byExternal: make(map[string]string),
		events:     make(map[string][]domain.TicketEvent),
		markers:    make(map[string]*domain.ProcessedMarker),
		sequences:  make(map[string]int64),
	}
}

// Tickets returns the ticket repository view.
func (s *Store) Tickets() repository.TicketRepository { return ticketRepo{s} }

// Messages returns the message repository view.
func (s *Store) Messages() repository.TicketMessageRepository { return messageRepo{s} }

// Events returns the event repository view.
func (s *Store) Events() repository.TicketEventRepository { return eventRepo{s} }

// Markers returns the processed-message marker view.
func (s *Store) Markers() repository.MarkerRepository { return markerRepo{s} }

// Sequence returns the ticket number allocator.
func (s *Store) Sequence() repository.SequenceAllocator { return sequence{s} }

// Policies returns the SLA policy view.
func (s *Store) Policies() repository.SLAPolicyRepository { return policyRepo{s} }

// SetPolicies replaces the stored SLA policies.
func (s *Store) SetPolicies(policies []domain.SLAPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append([]domain.SLAPolicy(nil), policies...)
}

type txKey struct{}

// RunInTx serializes callbacks so a message, its ticket update and the
// resulting events become visible together. Ticket, message and event writes
// made by fn are undone when it fails. Markers and sequences are not
// transactional, matching the Postgres store where they run outside the
// ticket transaction. Nested calls join the outer one.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	err := fn(context.WithValue(ctx, txKey{}, struct{}{}))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		for i := len(s.undo) - 1; i >= 0; i-- {
			s.undo[i]()
		}
	}
	s.undo = nil
	return err
}

// onRollback registers the inverse of a write. Callers hold s.mu.
func (s *Store) onRollback(ctx context.Context, fn func()) {
	if ctx.Value(txKey{}) != nil {
		s.undo = append(s.undo, fn)
	}
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tickets[ticket.ID]; ok {
		return domain.ErrAlreadyExists
	}
	key := numberKey{ticket.OrganizationID, ticket.Number}
	if _, ok := r.s.byNumber[key]; ok {
		return domain.ErrAlreadyExists
	}
	ticket.Version = 1
	r.s.tickets[ticket.ID] = ticket.Clone()
	r.s.byNumber[key] = ticket.ID
	id := ticket.ID
	r.s.onRollback(ctx, func() {
		delete(r.s.tickets, id)
		delete(r.s.byNumber, key)
	})
	return nil
}

func (r ticketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.tickets[ticket.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != ticket.Version {
		return domain.ErrVersionConflict
	}
	next := ticket.Clone()
	next.OrganizationID = stored.OrganizationID
	next.Number = stored.Number
	next.Channel = stored.Channel
	next.RequesterName = stored.RequesterName
	next.RequesterEmail = stored.RequesterEmail
	next.CreatedAt = stored.CreatedAt
	next.Version = stored.Version + 1
	r.s.tickets[ticket.ID] = next
	r.s.onRollback(ctx, func() { r.s.tickets[stored.ID] = stored })
	ticket.Version = next.Version
	return nil
}

func (r ticketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ticket, ok := r.s.tickets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return ticket.Clone(), nil
}

func (r ticketRepo) GetByNumber(ctx context.Context, organizationID string, number int64) (*domain.Ticket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byNumber[numberKey{organizationID, number}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.s.tickets[id].Clone(), nil
}

func (r ticketRepo) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, int, error) {
	r.s.mu.RLock()
	matched := r.s.filter(filter)
	r.s.mu.RUnlock()

	sortTickets(matched, filter.SortField, filter.SortDesc)
	total := len(matched)
	return page(matched, filter.Limit, filter.Offset), total, nil
}

func (r ticketRepo) Search(ctx context.Context, organizationID, term string, limit int) ([]domain.Ticket, error) {
	r.s.mu.RLock()
	matched := r.s.filter(repository.TicketFilter{OrganizationID: organizationID, SearchTerm: &term})
	r.s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	return page(matched, limit, 0), nil
}

func (r ticketRepo) ListBreachCandidates(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	r.s.mu.RLock()
	var result []domain.Ticket
	for _, t := range r.s.tickets {
		if !t.IsOpen() {
			continue
		}
		firstDue := t.FirstResponseBreachedAt == nil && t.FirstResponseAt == nil &&
			t.FirstResponseDue != nil && !t.FirstResponseDue.After(now)
		resolutionDue := t.ResolutionBreachedAt == nil && t.ResolutionDue != nil && !t.ResolutionDue.After(now)
		if firstDue || resolutionDue {
			result = append(result, *t.Clone())
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return page(result, limit, 0), nil
}

func (s *Store) filter(filter repository.TicketFilter) []domain.Ticket {
	var term string
	var number int64
	var byNumber bool
	if filter.SearchTerm != nil {
		term = strings.ToLower(strings.TrimSpace(*filter.SearchTerm))
		number, byNumber = repository.ParseTicketNumber(term)
	}

	var result []domain.Ticket
	for _, t := range s.tickets {
		if filter.OrganizationID != "" && t.OrganizationID != filter.OrganizationID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status) {
			continue
		}
		if len(filter.Priorities) > 0 && !containsPriority(filter.Priorities, t.Priority) {
			continue
		}
		if !matchesPtr(filter.Team, t.Team) || !matchesPtr(filter.OwnerID, t.OwnerID) || !matchesPtr(filter.CompanyID, t.CompanyID) {
			continue
		}
		if term != "" {
			hit := strings.Contains(strings.ToLower(t.Subject), term) ||
				strings.Contains(strings.ToLower(t.Description), term) ||
				(byNumber && t.Number == number)
			if !hit {
				continue
			}
		}
		result = append(result, *t.Clone())
	}
	return result
}

func sortTickets(tickets []domain.Ticket, field repository.TicketSortField, desc bool) {
	compare := func(a, b *domain.Ticket) int {
		switch field {
		case repository.SortByUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case repository.SortByPriority:
			return priorityRank(a.Priority) - priorityRank(b.Priority)
		case repository.SortByNumber:
			return compareInt(a.Number, b.Number)
		case repository.SortByResolutionDue:
			return compareDue(a.ResolutionDue, b.ResolutionDue)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		c := compare(&tickets[i], &tickets[j])
		if desc {
			c = -c
		}
		if c != 0 {
			return c < 0
		}
		return tickets[i].Number > tickets[j].Number
	})
}

func priorityRank(p domain.TicketPriority) int {
	for i, candidate := range domain.TicketPriorities {
		if candidate == p {
			return i
		}
	}
	return len(domain.TicketPriorities)
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareDue orders missing deadlines last, as Postgres does for NULLs.
func compareDue(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func page(tickets []domain.Ticket, limit, offset int) []domain.Ticket {
	if offset >= len(tickets) {
		return nil
	}
	tickets = tickets[offset:]
	if limit > 0 && limit < len(tickets) {
		tickets = tickets[:limit]
	}
	return tickets
}

func containsStatus(list []domain.TicketStatus, s domain.TicketStatus) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsPriority(list []domain.TicketPriority, p domain.TicketPriority) bool {
	for _, candidate := range list {
		if candidate == p {
			return true
		}
	}
	return false
}

func matchesPtr(want, got *string) bool {
	if want == nil {
		return true
	}
	return got != nil && *got == *want
}

type messageRepo struct{ s *Store }

func (r messageRepo) Create(ctx context.Context, msg *domain.TicketMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tickets[msg.TicketID]; !ok {
		return domain.ErrNotFound
	}
	if _, ok := r.s.messages[msg.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if msg.ExternalID != nil {
		if _, ok := r.s.byExternal[*msg.ExternalID]; ok {
			return domain.ErrAlreadyExists
		}
		r.s.byExternal[*msg.ExternalID] = msg.ID
	}
	stored := cloneMessage(msg)
	r.s.messages[msg.ID] = stored
	r.s.onRollback(ctx, func() {
		delete(r.s.messages, stored.ID)
		if stored.ExternalID != nil {
			delete(r.s.byExternal, *stored.ExternalID)
		}
	})
	return nil
}

func (r messageRepo) GetByID(ctx context.Context, id string) (*domain.TicketMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	msg, ok := r.s.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneMessage(msg), nil
}

func (r messageRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.TicketMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.byExternal[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneMessage(r.s.messages[id]), nil
}

func (r messageRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	r.s.mu.RLock()
	var result []domain.TicketMessage
	for _, msg := range r.s.messages {
		if msg.TicketID == ticketID {
			result = append(result, *cloneMessage(msg))
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func cloneMessage(msg *domain.TicketMessage) *domain.TicketMessage {
	cp := *msg
	if msg.Attachments != nil {
		cp.Attachments = append([]domain.Attachment(nil), msg.Attachments...)
	}
	if msg.ExternalID != nil {
		id := *msg.ExternalID
		cp.ExternalID = &id
	}
	return &cp
}

type eventRepo struct{ s *Store }

func (r eventRepo) Create(ctx context.Context, event *domain.TicketEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tickets[event.TicketID]; !ok {
		return domain.ErrNotFound
	}
	cp := *event
	cp.Meta = make(map[string]any, len(event.Meta))
	for k, v := range event.Meta {
		cp.Meta[k] = v
	}
	prev := r.s.events[event.TicketID]
	r.s.events[event.TicketID] = append(prev, cp)
	r.s.onRollback(ctx, func() {
		if prev == nil {
			delete(r.s.events, cp.TicketID)
			return
		}
		r.s.events[cp.TicketID] = prev
	})
	return nil
}

func (r eventRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := append([]domain.TicketEvent(nil), r.s.events[ticketID]...)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

type markerRepo struct{ s *Store }

func (r markerRepo) Claim(ctx context.Context, externalID string, now time.Time, lease time.Duration) (domain.ClaimOutcome, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	marker, ok := r.s.markers[externalID]
	switch {
	case !ok:
		r.s.markers[externalID] = &domain.ProcessedMarker{ExternalID: externalID, ClaimedAt: now}
		return domain.ClaimAcquired, nil
	case marker.Processed:
		return domain.ClaimAlreadyProcessed, nil
	case !marker.ClaimedAt.After(now.Add(-lease)):
		marker.ClaimedAt = now
		return domain.ClaimResumed, nil
	}
	return 0, domain.ErrMarkerInProgress
}

func (r markerRepo) Finalize(ctx context.Context, externalID, ticketID string, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	marker, ok := r.s.markers[externalID]
	if !ok {
		return domain.ErrNotFound
	}
	marker.Processed = true
	marker.TicketID = &ticketID
	finalized := now
	marker.FinalizedAt = &finalized
	return nil
}

func (r markerRepo) Release(ctx context.Context, externalID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if marker, ok := r.s.markers[externalID]; ok && !marker.Processed {
		delete(r.s.markers, externalID)
	}
	return nil
}

func (r markerRepo) Get(ctx context.Context, externalID string) (*domain.ProcessedMarker, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	marker, ok := r.s.markers[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *marker
	return &cp, nil
}

type sequence struct{ s *Store }

func (q sequence) Allocate(ctx context.Context, organizationID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	q.s.sequences[organizationID]++
	return q.s.sequences[organizationID], nil
}

type policyRepo struct{ s *Store }

func (r policyRepo) List(ctx context.Context) ([]domain.SLAPolicy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]domain.SLAPolicy(nil), r.s.policies...), nil
}
