// Package escalation pushes SLA breaches and urgent tickets to chat channels.
package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
)

// Alert is one escalation message.
type Alert struct {
	TicketID     string
	TicketNumber int64
	Title        string
	Detail       string
}

// Text renders the alert as a single chat line.
func (a Alert) Text() string {
	if a.Detail == "" {
		return fmt.Sprintf("[#%d] %s", a.TicketNumber, a.Title)
	}
	return fmt.Sprintf("[#%d] %s: %s", a.TicketNumber, a.Title, a.Detail)
}

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackSink posts alerts to a Slack channel with a bot token.
type SlackSink struct {
	client  slackClient
	channel string
}

// NewSlackSink builds a sink for channel.
func NewSlackSink(token, channel string) *SlackSink {
	return &SlackSink{client: slackapi.New(token), channel: channel}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Notify(ctx context.Context, alert Alert) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel, slackapi.MsgOptionText(alert.Text(), false))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// discordSession abstracts the discordgo.Session methods we use.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordSink posts alerts to a Discord channel with a bot token.
type DiscordSink struct {
	session discordSession
	channel string
}

// NewDiscordSink builds a sink for channel. Only the REST API is used, so
// no gateway connection is opened.
func NewDiscordSink(token, channel string) (*DiscordSink, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &DiscordSink{session: session, channel: channel}, nil
}

func (s *DiscordSink) Name() string { return "discord" }

func (s *DiscordSink) Notify(ctx context.Context, alert Alert) error {
	if _, err := s.session.ChannelMessageSend(s.channel, alert.Text(), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// Fanout delivers to every sink and joins the failures.
type Fanout []Sink

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Notify(ctx context.Context, alert Alert) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
