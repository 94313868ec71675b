package events

import (
	"time"

	"github.com/deskflow/helpdesk-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketMessageAdded    EventType = "ticket_message_added"
	EventTicketMerged          EventType = "ticket_merged"
	EventTicketSplit           EventType = "ticket_split"
	EventTicketSLABreached     EventType = "ticket_sla_breached"
)

// AllEventTypes lists every event the engine publishes.
var AllEventTypes = []EventType{
	EventTicketCreated,
	EventTicketStatusChanged,
	EventTicketPriorityChanged,
	EventTicketAssigned,
	EventTicketMessageAdded,
	EventTicketMerged,
	EventTicketSplit,
	EventTicketSLABreached,
}

// Event represents a domain event emitted by services.
type Event struct {
	ID           string       `json:"id"`
	Type         EventType    `json:"type"`
	TicketID     string       `json:"ticket_id"`
	TicketNumber int64        `json:"ticket_number"`
	Actor        domain.Actor `json:"actor"`
	Timestamp    time.Time    `json:"timestamp"`
	Payload      any          `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Subject   string                `json:"subject"`
	Priority  domain.TicketPriority `json:"priority"`
	Channel   domain.TicketChannel  `json:"channel"`
	CompanyID *string               `json:"company_id,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	From domain.TicketStatus `json:"from"`
	To   domain.TicketStatus `json:"to"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	From domain.TicketPriority `json:"from"`
	To   domain.TicketPriority `json:"to"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	OwnerID *string `json:"owner_id,omitempty"`
	Team    *string `json:"team,omitempty"`
}

// TicketMessageAddedPayload payload.
type TicketMessageAddedPayload struct {
	MessageID   string             `json:"message_id"`
	Kind        domain.MessageKind `json:"kind"`
	AuthorType  domain.AuthorType  `json:"author_type"`
	BodyPreview string             `json:"body_preview"`
}

// TicketMergedPayload payload.
type TicketMergedPayload struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

// TicketSplitPayload payload.
type TicketSplitPayload struct {
	SourceID  string `json:"source_id"`
	NewID     string `json:"new_id"`
	MessageID string `json:"message_id"`
}

// TicketSLABreachedPayload payload.
type TicketSLABreachedPayload struct {
	Boundary domain.SLABoundary    `json:"boundary"`
	Due      time.Time             `json:"due"`
	Priority domain.TicketPriority `json:"priority"`
	Subject  string                `json:"subject"`
}
