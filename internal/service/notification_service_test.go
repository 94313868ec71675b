package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/escalation"
	"github.com/deskflow/helpdesk-engine/internal/events"
)

type recordingPublisher struct {
	mu       sync.Mutex
	channels []string
	bodies   [][]byte
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	p.bodies = append(p.bodies, message.([]byte))
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
	}
	return cmd
}

type recordingSink struct {
	alerts []escalation.Alert
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Notify(ctx context.Context, alert escalation.Alert) error {
	s.alerts = append(s.alerts, alert)
	return nil
}

func TestNotificationService_PublishesAndEscalates(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	publisher := &recordingPublisher{}
	sink := &recordingSink{}
	NewNotificationService(dispatcher, zap.NewNop(), publisher, "tickets:events", sink).RegisterHandlers()
	ctx := context.Background()

	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type: events.EventTicketCreated, TicketID: "t-1", TicketNumber: 7,
		Payload: events.TicketCreatedPayload{Subject: "Checkout down", Priority: domain.TicketPriorityUrgent},
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type: events.EventTicketCreated, TicketID: "t-2", TicketNumber: 8,
		Payload: events.TicketCreatedPayload{Subject: "Question", Priority: domain.TicketPriorityLow},
	}))
	require.NoError(t, dispatcher.Publish(ctx, events.Event{
		Type: events.EventTicketSLABreached, TicketID: "t-2", TicketNumber: 8,
		Payload: events.TicketSLABreachedPayload{Boundary: domain.SLABoundaryResolution, Priority: domain.TicketPriorityLow, Subject: "Question"},
	}))

	assert.Equal(t, []string{"tickets:events", "tickets:events", "tickets:events"}, publisher.channels)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(publisher.bodies[0], &decoded))
	assert.Equal(t, "ticket_created", decoded["type"])
	assert.Equal(t, float64(7), decoded["ticket_number"])

	require.Len(t, sink.alerts, 2)
	assert.Equal(t, "[#7] Urgent ticket opened: Checkout down", sink.alerts[0].Text())
	assert.Equal(t, "[#8] SLA resolution breached (low): Question", sink.alerts[1].Text())
}

func TestNotificationService_PublishFailureSurfaces(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	publisher := &recordingPublisher{err: errors.New("connection refused")}
	NewNotificationService(dispatcher, zap.NewNop(), publisher, "tickets:events", nil).RegisterHandlers()

	err := dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketAssigned, TicketID: "t-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNotificationService_WithoutPublisher(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	NewNotificationService(dispatcher, zap.NewNop(), nil, "", nil).RegisterHandlers()
	assert.NoError(t, dispatcher.Publish(context.Background(), events.Event{Type: events.EventTicketMerged}))
}
