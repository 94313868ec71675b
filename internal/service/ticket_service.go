package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/events"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	"github.com/deskflow/helpdesk-engine/internal/repository"
	"github.com/deskflow/helpdesk-engine/internal/sla"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxSubjectLen   = 500
)

// PolicySource yields the SLA policy table in effect.
type PolicySource interface {
	Table() *sla.PolicyTable
}

// TicketService coordinates ticket workflows.
type TicketService struct {
	mutator
	messages      repository.TicketMessageRepository
	sequence      repository.SequenceAllocator
	policies      PolicySource
	org           string
	reopenOnReply bool
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo     repository.TicketRepository
	MessageRepo    repository.TicketMessageRepository
	EventRepo      repository.TicketEventRepository
	Sequence       repository.SequenceAllocator
	Tx             TxRunner
	Policies       PolicySource
	Dispatcher     events.Dispatcher
	Logger         *zap.Logger
	Metrics        *observability.Metrics
	OrganizationID string
	UpdateAttempts int
	ReopenOnReply  bool
	Now            func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Subject      string
	Description  string
	CompanyID    *string
	ContactID    *string
	OrderID      *string
	Priority     domain.TicketPriority
	Type         string
	Channel      domain.TicketChannel
	Team         *string
	Tags         []string
	CustomFields map[string]any
	Requester    domain.Author
	Actor        domain.Actor
	// FirstMessage is stored with the ticket in the same transaction.
	FirstMessage *MessageInput
}

// MessageInput describes a message appended to a ticket.
type MessageInput struct {
	Kind        domain.MessageKind
	Body        string
	HTMLBody    string
	Author      domain.Author
	Attachments []domain.Attachment
	ExternalID  string
}

// TicketListInput describes agent listing filters.
type TicketListInput struct {
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Team       *string
	OwnerID    *string
	CompanyID  *string
	Search     *string
	Page       int
	PageSize   int
	SortField  repository.TicketSortField
	SortDesc   bool
}

// TicketPage is one page of a ticket listing.
type TicketPage struct {
	Tickets  []domain.Ticket
	Total    int
	Page     int
	PageSize int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		mutator: mutator{
			tickets:    deps.TicketRepo,
			events:     deps.EventRepo,
			tx:         deps.Tx,
			dispatcher: deps.Dispatcher,
			logger:     logger.Named("tickets"),
			metrics:    deps.Metrics,
			attempts:   deps.UpdateAttempts,
			now:        deps.Now,
		},
		messages:      deps.MessageRepo,
		sequence:      deps.Sequence,
		policies:      deps.Policies,
		org:           deps.OrganizationID,
		reopenOnReply: deps.ReopenOnReply,
	}
}

// OrganizationID returns the organization tickets are numbered in.
func (s *TicketService) OrganizationID() string {
	return s.org
}

// CreateTicket allocates a number, stamps SLA deadlines and stores the ticket.
func (s *TicketService) CreateTicket(ctx context.Context, input TicketCreateInput) (*domain.Ticket, error) {
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return nil, apperrors.NewValidationError("subject is required", map[string]any{"field": "subject"})
	}
	if runes := []rune(subject); len(runes) > maxSubjectLen {
		subject = string(runes[:maxSubjectLen])
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityNormal
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}
	channel := input.Channel
	if channel == "" {
		channel = domain.TicketChannelWeb
	}
	if input.FirstMessage != nil && !input.FirstMessage.Kind.Valid() {
		return nil, apperrors.NewValidationError("unknown message kind", map[string]any{"kind": input.FirstMessage.Kind})
	}

	// Allocation stays outside the transaction so a retried allocator never
	// runs against an aborted one.
	number, err := s.sequence.Allocate(ctx, s.org)
	if err != nil {
		return nil, fmt.Errorf("allocate ticket number: %w", err)
	}

	now := s.clock()
	ticket := &domain.Ticket{
		ID:             uuid.NewString(),
		OrganizationID: s.org,
		Number:         number,
		Subject:        subject,
		Description:    strings.TrimSpace(input.Description),
		Status:         domain.TicketStatusNew,
		Priority:       priority,
		Type:           strings.TrimSpace(input.Type),
		Channel:        channel,
		Team:           input.Team,
		CompanyID:      input.CompanyID,
		ContactID:      input.ContactID,
		OrderID:        input.OrderID,
		RequesterName:  input.Requester.Name,
		RequesterEmail: strings.ToLower(strings.TrimSpace(input.Requester.Email)),
		Tags:           domain.NormalizeTags(input.Tags),
		CustomFields:   input.CustomFields,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.policies.Table().Apply(ticket, now)

	var firstMessage *domain.TicketMessage
	if input.FirstMessage != nil {
		firstMessage = newMessage(ticket.ID, *input.FirstMessage, now)
	}

	err = s.transact(ctx, func(ctx context.Context, cs *changeSet) error {
		created := ticket.Clone()
		if firstMessage != nil && firstMessage.IsFirstResponse() {
			created.FirstResponseAt = &now
		}
		if err := s.tickets.Create(ctx, created); err != nil {
			return err
		}
		cs.publish(created, events.EventTicketCreated, input.Actor, now, events.TicketCreatedPayload{
			Subject:   created.Subject,
			Priority:  created.Priority,
			Channel:   created.Channel,
			CompanyID: created.CompanyID,
		})
		if firstMessage != nil {
			if err := s.messages.Create(ctx, firstMessage); err != nil {
				return err
			}
			cs.publish(created, events.EventTicketMessageAdded, domain.ActorFromAuthor(firstMessage.Author), now, messagePayload(firstMessage))
		}
		ticket = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Inc(observability.CounterTicketsCreated)
	return ticket, nil
}

// GetTicket returns the ticket or domain.ErrNotFound.
func (s *TicketService) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.tickets.GetByID(ctx, id)
}

// GetTicketByNumber looks a ticket up by its per-organization number.
func (s *TicketService) GetTicketByNumber(ctx context.Context, number int64) (*domain.Ticket, error) {
	return s.tickets.GetByNumber(ctx, s.org, number)
}

// ListTickets returns one page of tickets and the total match count.
func (s *TicketService) ListTickets(ctx context.Context, input TicketListInput) (*TicketPage, error) {
	for _, status := range input.Statuses {
		if !status.Valid() {
			return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": status})
		}
	}
	for _, priority := range input.Priorities {
		if !priority.Valid() {
			return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
		}
	}
	sortField := input.SortField
	if sortField == "" {
		sortField = repository.SortByCreatedAt
	}
	if !sortField.Valid() {
		return nil, apperrors.NewValidationError("unknown sort field", map[string]any{"sort": sortField})
	}

	page := input.Page
	if page < 1 {
		page = 1
	}
	size := input.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	var search *string
	if input.Search != nil && strings.TrimSpace(*input.Search) != "" {
		term := strings.TrimSpace(*input.Search)
		search = &term
	}

	tickets, total, err := s.tickets.List(ctx, repository.TicketFilter{
		OrganizationID: s.org,
		Statuses:       input.Statuses,
		Priorities:     input.Priorities,
		Team:           input.Team,
		OwnerID:        input.OwnerID,
		CompanyID:      input.CompanyID,
		SearchTerm:     search,
		SortField:      sortField,
		SortDesc:       input.SortDesc,
		Limit:          size,
		Offset:         (page - 1) * size,
	})
	if err != nil {
		return nil, err
	}
	return &TicketPage{Tickets: tickets, Total: total, Page: page, PageSize: size}, nil
}

// SearchTickets matches subject and description substrings, or an exact
// ticket number given as "123" or "#123".
func (s *TicketService) SearchTickets(ctx context.Context, query string, limit int) ([]domain.Ticket, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Ticket{}, nil
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return s.tickets.Search(ctx, s.org, query, limit)
}

// AddMessage appends a message and applies its lifecycle effects: the first
// agent public reply stamps first_response_at, and a customer public reply
// moves a waiting_customer ticket back to in_progress.
func (s *TicketService) AddMessage(ctx context.Context, ticketID string, input MessageInput) (*domain.TicketMessage, *domain.Ticket, error) {
	if !input.Kind.Valid() {
		return nil, nil, apperrors.NewValidationError("unknown message kind", map[string]any{"kind": input.Kind})
	}
	if input.Author.Type == domain.AuthorTypeCustomer && input.Kind == domain.MessageKindInternalNote {
		return nil, nil, apperrors.NewValidationError("customers cannot write internal notes", nil)
	}

	now := s.clock()
	msg := newMessage(ticketID, input, now)
	var updated *domain.Ticket
	err := s.transact(ctx, func(ctx context.Context, cs *changeSet) error {
		ticket, err := s.load(ctx, ticketID)
		if err != nil {
			return err
		}
		if err := s.messages.Create(ctx, msg); err != nil {
			return err
		}
		cs.publish(ticket, events.EventTicketMessageAdded, domain.ActorFromAuthor(msg.Author), now, messagePayload(msg))

		if msg.IsFirstResponse() && ticket.FirstResponseAt == nil {
			ticket.FirstResponseAt = &now
		}
		if msg.Kind == domain.MessageKindPublicReply && msg.Author.Type == domain.AuthorTypeCustomer {
			if err := s.customerReplied(ticket, cs, now); err != nil {
				return err
			}
		}
		if err := s.save(ctx, ticket, now); err != nil {
			return err
		}
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return msg, updated, nil
}

func (s *TicketService) customerReplied(ticket *domain.Ticket, cs *changeSet, now time.Time) error {
	switch ticket.Status {
	case domain.TicketStatusWaitingCustomer:
	case domain.TicketStatusResolved, domain.TicketStatusClosed:
		if !s.reopenOnReply {
			return nil
		}
	default:
		return nil
	}
	from, err := transition(ticket, domain.TicketStatusInProgress, now)
	if err != nil {
		return err
	}
	recordStatusChange(cs, ticket, from, domain.SystemActor, now, "customer_reply")
	return nil
}

// UpdateStatus applies one lifecycle transition. Transitions outside the
// lifecycle table fail with domain.InvalidTransitionError and leave the
// ticket unchanged.
func (s *TicketService) UpdateStatus(ctx context.Context, ticketID string, next domain.TicketStatus, actor domain.Actor) (*domain.Ticket, error) {
	if !next.Valid() {
		return nil, apperrors.NewValidationError("unknown status", map[string]any{"status": next})
	}
	now := s.clock()
	var updated *domain.Ticket
	err := s.transact(ctx, func(ctx context.Context, cs *changeSet) error {
		ticket, err := s.load(ctx, ticketID)
		if err != nil {
			return err
		}
		from, err := transition(ticket, next, now)
		if err != nil {
			return err
		}
		if err := s.save(ctx, ticket, now); err != nil {
			return err
		}
		recordStatusChange(cs, ticket, from, actor, now, "")
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdatePriority changes the priority and restarts both SLA clocks under the
// new priority's policy.
func (s *TicketService) UpdatePriority(ctx context.Context, ticketID string, priority domain.TicketPriority, actor domain.Actor) (*domain.Ticket, error) {
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}
	now := s.clock()
	var updated *domain.Ticket
	err := s.transact(ctx, func(ctx context.Context, cs *changeSet) error {
		ticket, err := s.load(ctx, ticketID)
		if err != nil {
			return err
		}
		updated = ticket
		if ticket.Priority == priority {
			return nil
		}
		from := ticket.Priority
		ticket.Priority = priority
		s.policies.Table().Apply(ticket, now)
		if err := s.save(ctx, ticket, now); err != nil {
			return err
		}
		cs.record(ticket, domain.EventKindPriorityChanged, actor, now,
			map[string]any{"from": string(from), "to": string(priority)},
			events.EventTicketPriorityChanged,
			events.TicketPriorityChangedPayload{From: from, To: priority})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Timeline merges messages and events in time order; events sort before
// messages created at the same instant. Internal notes are dropped unless
// includeInternal is set.
func (s *TicketService) Timeline(ctx context.Context, ticketID string, includeInternal bool) ([]domain.TimelineEntry, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	evts, err := s.events.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.TimelineEntry, 0, len(msgs)+len(evts))
	for i := range evts {
		entries = append(entries, domain.TimelineEntry{At: evts[i].CreatedAt, Event: &evts[i]})
	}
	for i := range msgs {
		if !includeInternal && !msgs[i].CustomerVisible() {
			continue
		}
		entries = append(entries, domain.TimelineEntry{At: msgs[i].CreatedAt, Message: &msgs[i]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].At.Equal(entries[j].At) {
			return entries[i].At.Before(entries[j].At)
		}
		return entries[i].Event != nil && entries[j].Event == nil
	})
	return entries, nil
}

// LastInboundMessage returns the newest customer message with an external
// id, or nil when the ticket has none.
func (s *TicketService) LastInboundMessage(ctx context.Context, ticketID string) (*domain.TicketMessage, error) {
	msgs, err := s.messages.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Author.Type == domain.AuthorTypeCustomer && msgs[i].ExternalID != nil {
			return &msgs[i], nil
		}
	}
	return nil, nil
}

func recordStatusChange(cs *changeSet, ticket *domain.Ticket, from domain.TicketStatus, actor domain.Actor, now time.Time, reason string) {
	meta := map[string]any{"from": string(from), "to": string(ticket.Status)}
	if reason != "" {
		meta["reason"] = reason
	}
	cs.record(ticket, domain.EventKindStatusChanged, actor, now, meta,
		events.EventTicketStatusChanged,
		events.TicketStatusChangedPayload{From: from, To: ticket.Status})
}

func newMessage(ticketID string, input MessageInput, now time.Time) *domain.TicketMessage {
	msg := &domain.TicketMessage{
		ID:          uuid.NewString(),
		TicketID:    ticketID,
		Kind:        input.Kind,
		Body:        strings.TrimSpace(input.Body),
		HTMLBody:    input.HTMLBody,
		Author:      input.Author,
		Attachments: input.Attachments,
		CreatedAt:   now,
	}
	if id := strings.TrimSpace(input.ExternalID); id != "" {
		msg.ExternalID = &id
	}
	return msg
}

func messagePayload(msg *domain.TicketMessage) events.TicketMessageAddedPayload {
	return events.TicketMessageAddedPayload{
		MessageID:   msg.ID,
		Kind:        msg.Kind,
		AuthorType:  msg.Author.Type,
		BodyPreview: stringPreview(msg.Body, 120),
	}
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// isNotFound reports whether err means the row does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
