package escalation

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSlack struct {
	channels []string
	err      error
}

func (m *mockSlack) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.channels = append(m.channels, channelID)
	return channelID, "1700000000.000100", m.err
}

type mockDiscord struct {
	sent []string
	err  error
}

func (m *mockDiscord) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.sent = append(m.sent, channelID+":"+content)
	return &discordgo.Message{ID: "m-1"}, m.err
}

func TestAlertText(t *testing.T) {
	assert.Equal(t, "[#7] SLA breached: first_response", Alert{TicketNumber: 7, Title: "SLA breached", Detail: "first_response"}.Text())
	assert.Equal(t, "[#7] Urgent ticket", Alert{TicketNumber: 7, Title: "Urgent ticket"}.Text())
}

func TestSinks(t *testing.T) {
	slack := &mockSlack{}
	discord := &mockDiscord{}
	fanout := Fanout{
		&SlackSink{client: slack, channel: "C1"},
		&DiscordSink{session: discord, channel: "D1"},
	}

	require.NoError(t, fanout.Notify(context.Background(), Alert{TicketNumber: 3, Title: "Urgent ticket"}))
	assert.Equal(t, []string{"C1"}, slack.channels)
	assert.Equal(t, []string{"D1:[#3] Urgent ticket"}, discord.sent)
}

func TestFanout_ContinuesAfterFailure(t *testing.T) {
	slack := &mockSlack{err: errors.New("channel_not_found")}
	discord := &mockDiscord{}
	fanout := Fanout{
		&SlackSink{client: slack, channel: "C1"},
		&DiscordSink{session: discord, channel: "D1"},
	}

	err := fanout.Notify(context.Background(), Alert{TicketNumber: 3, Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
	assert.Len(t, discord.sent, 1)
}
