package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/escalation"
	"github.com/deskflow/helpdesk-engine/internal/events"
)

// Publisher is the subset of the Redis client used for live updates.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NotificationService fans engine events out to logs, the Redis live
// update channel and chat escalation sinks.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	publisher  Publisher
	channel    string
	sink       escalation.Sink
}

// NewNotificationService creates the service. publisher and sink may be nil.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, publisher Publisher, channel string, sink escalation.Sink) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger.Named("notifications"),
		publisher:  publisher,
		channel:    channel,
		sink:       sink,
	}
}

// Outputs names where events are delivered besides the log.
func (n *NotificationService) Outputs() []string {
	var outputs []string
	if n.publisher != nil {
		outputs = append(outputs, "redis:"+n.channel)
	}
	if n.sink != nil {
		outputs = append(outputs, "escalation:"+n.sink.Name())
	}
	return outputs
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range events.AllEventTypes {
		n.dispatcher.Subscribe(eventType, n.handleEvent)
	}
	n.dispatcher.Subscribe(events.EventTicketCreated, n.handleTicketCreated)
	n.dispatcher.Subscribe(events.EventTicketSLABreached, n.handleSLABreached)
}

func (n *NotificationService) handleEvent(ctx context.Context, event events.Event) error {
	n.logger.Info(string(event.Type),
		zap.String("ticket_id", event.TicketID),
		zap.Int64("ticket_number", event.TicketNumber),
		zap.String("actor", event.Actor.ID))
	if n.publisher == nil {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := n.publisher.Publish(ctx, n.channel, body).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (n *NotificationService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok || payload.Priority != domain.TicketPriorityUrgent {
		return nil
	}
	return n.escalate(ctx, escalation.Alert{
		TicketID:     event.TicketID,
		TicketNumber: event.TicketNumber,
		Title:        "Urgent ticket opened",
		Detail:       payload.Subject,
	})
}

func (n *NotificationService) handleSLABreached(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketSLABreachedPayload)
	if !ok {
		return nil
	}
	return n.escalate(ctx, escalation.Alert{
		TicketID:     event.TicketID,
		TicketNumber: event.TicketNumber,
		Title:        fmt.Sprintf("SLA %s breached (%s)", payload.Boundary, payload.Priority),
		Detail:       payload.Subject,
	})
}

func (n *NotificationService) escalate(ctx context.Context, alert escalation.Alert) error {
	if n.sink == nil {
		return nil
	}
	if err := n.sink.Notify(ctx, alert); err != nil {
		return fmt.Errorf("escalate via %s: %w", n.sink.Name(), err)
	}
	return nil
}
