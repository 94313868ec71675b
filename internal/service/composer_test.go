package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/config"
	"github.com/deskflow/helpdesk-engine/internal/domain"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

func newComposerHarness(t *testing.T) (*harness, *Composer, *fakeProvider) {
	t.Helper()
	h := newHarness(t)
	provider := &fakeProvider{}
	composer := NewComposer(h.tickets, provider, config.MailConfig{Mailbox: "support@acme.test", FromName: "Acme Support"}, zap.NewNop(), h.metrics)
	return h, composer, provider
}

func TestReply_PublicReplyIsSentThreaded(t *testing.T) {
	h, composer, provider := newComposerHarness(t)
	ctx := context.Background()
	ticket := h.create(t, domain.TicketPriorityNormal)
	_, _, err := h.tickets.AddMessage(ctx, ticket.ID, MessageInput{
		Kind: domain.MessageKindPublicReply, Body: "it smokes", Author: customer, ExternalID: "CA+abc@mx.customer.test",
	})
	require.NoError(t, err)

	msg, err := composer.Reply(ctx, ticket.ID, ReplyInput{
		Kind:   domain.MessageKindPublicReply,
		Body:   "Please **unplug** it.",
		Author: agent.Author(),
	})
	require.NoError(t, err)
	assert.Contains(t, msg.HTMLBody, "<strong>unplug</strong>")

	sent := provider.messages(t)
	require.Len(t, sent, 1)
	assert.Equal(t, "Re: [#1] Printer on fire", subjectOf(t, sent[0]))
	assert.Equal(t, "<CA+abc@mx.customer.test>", sent[0].Header.Get("In-Reply-To"))
	assert.Contains(t, sent[0].Header.Get("To"), "dana@customer.test")
	assert.Contains(t, sent[0].Header.Get("Content-Type"), "multipart/alternative")

	stored, err := h.tickets.GetTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.FirstResponseAt)
}

func TestReply_InternalNoteNeverSent(t *testing.T) {
	h, composer, provider := newComposerHarness(t)
	ticket := h.create(t, domain.TicketPriorityNormal)

	msg, err := composer.Reply(context.Background(), ticket.ID, ReplyInput{
		Kind:   domain.MessageKindInternalNote,
		Body:   "customer sounds upset",
		Author: agent.Author(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageKindInternalNote, msg.Kind)
	assert.Empty(t, msg.HTMLBody)
	assert.Empty(t, provider.messages(t))
}

func TestReply_Validation(t *testing.T) {
	h, composer, _ := newComposerHarness(t)
	ticket := h.create(t, domain.TicketPriorityNormal)

	_, err := composer.Reply(context.Background(), ticket.ID, ReplyInput{Kind: domain.MessageKindPublicReply, Body: "  "})
	assert.Equal(t, apperrors.CodeValidation, apperrors.ToDomainError(err).Code)
}

func TestReply_SendFailureKeepsMessage(t *testing.T) {
	h, composer, provider := newComposerHarness(t)
	provider.err = apperrors.NewUpstream("mail provider", errors.New("503"))
	ticket := h.create(t, domain.TicketPriorityNormal)

	msg, err := composer.Reply(context.Background(), ticket.ID, ReplyInput{
		Kind: domain.MessageKindPublicReply, Body: "hello", Author: agent.Author(),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))
	require.NotNil(t, msg)

	stored, err := h.store.Messages().GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Body)
}

func TestReply_WithoutRequesterEmailIsStoredOnly(t *testing.T) {
	h, composer, provider := newComposerHarness(t)
	ticket, err := h.tickets.CreateTicket(context.Background(), TicketCreateInput{Subject: "Phone call"})
	require.NoError(t, err)

	_, err = composer.Reply(context.Background(), ticket.ID, ReplyInput{
		Kind: domain.MessageKindPublicReply, Body: "called back", Author: agent.Author(),
	})
	require.NoError(t, err)
	assert.Empty(t, provider.messages(t))
}
