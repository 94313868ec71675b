package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/crm"
	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/mail"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	"github.com/deskflow/helpdesk-engine/internal/repository"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

// IngestOutcome says what an inbound message did to the ticket store.
type IngestOutcome string

const (
	IngestCreated   IngestOutcome = "created"
	IngestAppended  IngestOutcome = "appended"
	IngestDuplicate IngestOutcome = "duplicate"
)

// IngestResult reports the effect of one inbound message.
type IngestResult struct {
	Outcome      IngestOutcome
	TicketID     string
	TicketNumber int64
	MessageID    string
	AutoReplied  bool
}

// SenderResolver maps a sender address to CRM records.
type SenderResolver interface {
	Resolve(ctx context.Context, email string) (crm.Match, error)
}

// Correlator turns one inbound email into exactly one ticket store mutation.
type Correlator struct {
	tickets  *TicketService
	messages repository.TicketMessageRepository
	markers  repository.MarkerRepository
	resolver SenderResolver
	composer *Composer
	mailbox  string
	lease    time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// CorrelatorDependencies bundles the correlator collaborators.
type CorrelatorDependencies struct {
	Tickets  *TicketService
	Messages repository.TicketMessageRepository
	Markers  repository.MarkerRepository
	Resolver SenderResolver
	Composer *Composer
	// Mailbox is our own address; mail from it never gets an auto-reply.
	Mailbox string
	Lease   time.Duration
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// NewCorrelator creates the correlator.
func NewCorrelator(deps CorrelatorDependencies) *Correlator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	lease := deps.Lease
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Correlator{
		tickets:  deps.Tickets,
		messages: deps.Messages,
		markers:  deps.Markers,
		resolver: deps.Resolver,
		composer: deps.Composer,
		mailbox:  strings.ToLower(strings.TrimSpace(deps.Mailbox)),
		lease:    lease,
		logger:   logger.Named("correlator"),
		metrics:  deps.Metrics,
	}
}

// IngestPayload parses a provider payload and ingests it.
func (c *Correlator) IngestPayload(ctx context.Context, payload mail.Payload) (*IngestResult, error) {
	msg, err := payload.Message()
	if errors.Is(err, mail.ErrNoExternalID) {
		return nil, apperrors.NewValidationError("message has no usable id", nil)
	}
	if err != nil {
		return nil, apperrors.NewValidationError("unreadable message", map[string]any{"reason": err.Error()})
	}
	return c.Ingest(ctx, msg)
}

// Ingest applies msg at most once. The marker is claimed before any work; a
// failed attempt releases it so the provider's redelivery starts over, and a
// crash leaves it to expire and be resumed.
func (c *Correlator) Ingest(ctx context.Context, msg *mail.InboundMessage) (*IngestResult, error) {
	log := c.logger.With(zap.String("external_id", msg.ExternalID))
	now := c.tickets.clock()

	outcome, err := c.markers.Claim(ctx, msg.ExternalID, now, c.lease)
	if err != nil {
		return nil, err
	}
	if outcome == domain.ClaimAlreadyProcessed {
		c.metrics.Inc(observability.CounterInboundDuplicate)
		log.Debug("duplicate delivery ignored")
		return c.duplicate(ctx, msg.ExternalID), nil
	}
	if outcome == domain.ClaimResumed {
		log.Info("resuming stalled message")
	}

	result, ticket, err := c.apply(ctx, msg, log)
	if err != nil {
		c.metrics.Inc(observability.CounterInboundFailed)
		if relErr := c.markers.Release(context.WithoutCancel(ctx), msg.ExternalID); relErr != nil {
			log.Warn("release marker", zap.Error(relErr))
		}
		return nil, err
	}
	if err := c.markers.Finalize(ctx, msg.ExternalID, result.TicketID, c.tickets.clock()); err != nil {
		c.metrics.Inc(observability.CounterInboundFailed)
		return nil, err
	}
	c.metrics.Inc(observability.CounterInboundProcessed)

	if result.Outcome == IngestCreated && c.shouldAutoReply(msg) && c.composer != nil {
		if err := c.composer.SendAutoReply(ctx, ticket, msg); err != nil {
			log.Warn("auto-reply failed", zap.Int64("ticket_number", ticket.Number), zap.Error(err))
		} else {
			result.AutoReplied = true
		}
	}
	log.Info("inbound message ingested",
		zap.String("outcome", string(result.Outcome)),
		zap.Int64("ticket_number", result.TicketNumber))
	return result, nil
}

func (c *Correlator) apply(ctx context.Context, msg *mail.InboundMessage, log *zap.Logger) (*IngestResult, *domain.Ticket, error) {
	// A resumed attempt may have stored the message before stalling.
	existing, err := c.messages.GetByExternalID(ctx, msg.ExternalID)
	switch {
	case err == nil:
		ticket, err := c.tickets.GetTicket(ctx, existing.TicketID)
		if err != nil {
			return nil, nil, err
		}
		return &IngestResult{
			Outcome:      IngestDuplicate,
			TicketID:     ticket.ID,
			TicketNumber: ticket.Number,
			MessageID:    existing.ID,
		}, ticket, nil
	case !isNotFound(err):
		return nil, nil, err
	}

	author := domain.Author{
		Name:  msg.From.Name,
		Email: strings.ToLower(msg.From.Email),
		Type:  domain.AuthorTypeCustomer,
	}
	author.ID = author.Email
	message := MessageInput{
		Kind:        domain.MessageKindPublicReply,
		Body:        msg.Text,
		HTMLBody:    msg.HTML,
		Author:      author,
		Attachments: msg.Attachments,
		ExternalID:  msg.ExternalID,
	}

	if number, ok := mail.ExtractTicketNumber(msg.Subject); ok {
		ticket, err := c.tickets.GetTicketByNumber(ctx, number)
		switch {
		case err == nil:
			stored, updated, err := c.tickets.AddMessage(ctx, ticket.ID, message)
			if err != nil {
				return nil, nil, err
			}
			return &IngestResult{
				Outcome:      IngestAppended,
				TicketID:     updated.ID,
				TicketNumber: updated.Number,
				MessageID:    stored.ID,
			}, updated, nil
		case isNotFound(err):
			log.Warn("subject references unknown ticket, opening a new one", zap.Int64("tag_number", number))
		default:
			return nil, nil, err
		}
	}

	var match crm.Match
	if c.resolver != nil {
		match, err = c.resolver.Resolve(ctx, author.Email)
		if err != nil {
			log.Warn("crm lookup failed, continuing without association", zap.Error(err))
			match = crm.Match{}
		}
	}

	subject := mail.StripTag(msg.Subject)
	if subject == "" {
		subject = "(no subject)"
	}
	ticket, err := c.tickets.CreateTicket(ctx, TicketCreateInput{
		Subject:      subject,
		Description:  msg.Text,
		CompanyID:    match.CompanyID,
		ContactID:    match.ContactID,
		Priority:     mail.DetectPriority(msg.Subject, msg.Text),
		Channel:      domain.TicketChannelEmail,
		Requester:    author,
		Actor:        domain.ActorFromAuthor(author),
		FirstMessage: &message,
	})
	if err != nil {
		return nil, nil, err
	}
	return &IngestResult{
		Outcome:      IngestCreated,
		TicketID:     ticket.ID,
		TicketNumber: ticket.Number,
	}, ticket, nil
}

func (c *Correlator) duplicate(ctx context.Context, externalID string) *IngestResult {
	result := &IngestResult{Outcome: IngestDuplicate}
	marker, err := c.markers.Get(ctx, externalID)
	if err != nil || marker.TicketID == nil {
		return result
	}
	result.TicketID = *marker.TicketID
	if ticket, err := c.tickets.GetTicket(ctx, result.TicketID); err == nil {
		result.TicketNumber = ticket.Number
	}
	return result
}

func (c *Correlator) shouldAutoReply(msg *mail.InboundMessage) bool {
	sender := strings.ToLower(strings.TrimSpace(msg.From.Email))
	if sender == "" || msg.AutoSubmitted {
		return false
	}
	return c.mailbox == "" || sender != c.mailbox
}
