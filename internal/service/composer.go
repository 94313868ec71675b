package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/config"
	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/mail"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

// Composer writes outbound mail. Every subject carries the [#N] tag so the
// customer's reply correlates back to the ticket.
type Composer struct {
	tickets   *TicketService
	provider  mail.Provider
	from      mail.Address
	signature string
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// ReplyInput is an agent-authored message.
type ReplyInput struct {
	Kind        domain.MessageKind
	Body        string
	Author      domain.Author
	Attachments []domain.Attachment
}

// NewComposer builds the composer. A nil provider stores replies without
// sending them.
func NewComposer(tickets *TicketService, provider mail.Provider, cfg config.MailConfig, logger *zap.Logger, metrics *observability.Metrics) *Composer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Composer{
		tickets:   tickets,
		provider:  provider,
		from:      mail.Address{Name: cfg.FromName, Email: cfg.Mailbox},
		signature: cfg.FromName,
		logger:    logger.Named("composer"),
		metrics:   metrics,
		now:       tickets.now,
	}
}

// Reply stores the message and, for public replies, mails it to the
// requester threaded under the last inbound message. Internal notes are
// never sent. A send failure is returned together with the stored message.
func (c *Composer) Reply(ctx context.Context, ticketID string, input ReplyInput) (*domain.TicketMessage, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, apperrors.NewValidationError("body is required", map[string]any{"field": "body"})
	}
	if input.Author.Type == "" {
		input.Author.Type = domain.AuthorTypeAgent
	}

	msgInput := MessageInput{
		Kind:        input.Kind,
		Body:        body,
		Author:      input.Author,
		Attachments: input.Attachments,
	}
	if input.Kind == domain.MessageKindPublicReply {
		html, err := mail.RenderMarkdown(body)
		if err != nil {
			c.logger.Warn("render reply markdown", zap.String("ticket_id", ticketID), zap.Error(err))
		}
		msgInput.HTMLBody = html
	}

	msg, ticket, err := c.tickets.AddMessage(ctx, ticketID, msgInput)
	if err != nil {
		return nil, err
	}
	if !msg.CustomerVisible() {
		return msg, nil
	}
	if c.provider == nil || ticket.RequesterEmail == "" {
		c.logger.Info("reply stored without sending",
			zap.String("ticket_id", ticket.ID),
			zap.Bool("has_provider", c.provider != nil))
		return msg, nil
	}

	out := mail.OutboundMessage{
		From:    c.from,
		To:      []mail.Address{{Name: ticket.RequesterName, Email: ticket.RequesterEmail}},
		Subject: mail.ReplySubject(ticket.Number, ticket.Subject),
		Text:    body,
		HTML:    msg.HTMLBody,
	}
	inbound, err := c.tickets.LastInboundMessage(ctx, ticket.ID)
	if err != nil {
		c.logger.Warn("look up thread parent", zap.String("ticket_id", ticket.ID), zap.Error(err))
	} else if inbound != nil && strings.Contains(*inbound.ExternalID, "@") {
		out.InReplyTo = *inbound.ExternalID
	}
	if err := c.send(ctx, out); err != nil {
		return msg, err
	}
	return msg, nil
}

// SendAutoReply acknowledges a new ticket to its sender and records the
// acknowledgment on the ticket.
func (c *Composer) SendAutoReply(ctx context.Context, ticket *domain.Ticket, inbound *mail.InboundMessage) error {
	body, err := mail.RenderAutoReply(mail.AutoReplyData{
		Number:    ticket.Number,
		Subject:   ticket.Subject,
		Name:      inbound.From.Name,
		Signature: c.signature,
	})
	if err != nil {
		return err
	}
	out := mail.OutboundMessage{
		From:       c.from,
		To:         []mail.Address{inbound.From},
		Subject:    mail.ReplySubject(ticket.Number, inbound.Subject),
		Text:       body,
		InReplyTo:  inbound.MessageID,
		References: inbound.References,
		AutoReply:  true,
	}
	if c.provider != nil {
		if err := c.send(ctx, out); err != nil {
			return err
		}
	}
	if _, _, err := c.tickets.AddMessage(ctx, ticket.ID, MessageInput{
		Kind:   domain.MessageKindPublicReply,
		Body:   body,
		Author: domain.SystemAuthor,
	}); err != nil {
		return err
	}
	c.metrics.Inc(observability.CounterAutoReplies)
	return nil
}

func (c *Composer) send(ctx context.Context, out mail.OutboundMessage) error {
	raw, messageID, err := out.Build(c.clock())
	if err != nil {
		return err
	}
	providerID, err := c.provider.Send(ctx, raw)
	if err != nil {
		c.logger.Warn("send mail failed", zap.String("subject", out.Subject), zap.Error(err))
		return err
	}
	c.logger.Debug("mail sent",
		zap.String("message_id", messageID),
		zap.String("provider_id", providerID),
		zap.String("subject", out.Subject))
	return nil
}

func (c *Composer) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
