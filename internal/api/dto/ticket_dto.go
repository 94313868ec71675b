package dto

import (
	"time"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/sla"
)

// RequesterRequest identifies the customer a ticket is opened for.
type RequesterRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Subject      string                `json:"subject"`
	Description  string                `json:"description"`
	CompanyID    *string               `json:"company_id"`
	ContactID    *string               `json:"contact_id"`
	OrderID      *string               `json:"order_id"`
	Priority     domain.TicketPriority `json:"priority"`
	Type         string                `json:"type"`
	Channel      domain.TicketChannel  `json:"channel"`
	Team         *string               `json:"team"`
	Tags         []string              `json:"tags"`
	CustomFields map[string]any        `json:"custom_fields"`
	Requester    RequesterRequest      `json:"requester"`
}

// CreateMessageRequest payload. Kind defaults to public_reply.
type CreateMessageRequest struct {
	Kind        domain.MessageKind  `json:"kind"`
	Body        string              `json:"body"`
	Attachments []domain.Attachment `json:"attachments"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status domain.TicketStatus `json:"status"`
}

// UpdatePriorityRequest payload.
type UpdatePriorityRequest struct {
	Priority domain.TicketPriority `json:"priority"`
}

// AssignRequest payload. Null or blank values clear the field.
type AssignRequest struct {
	OwnerID *string `json:"owner_id"`
	Team    *string `json:"team"`
}

// MergeRequest payload; the path ticket is merged into TargetID.
type MergeRequest struct {
	TargetID string `json:"target_id"`
}

// SplitRequest payload.
type SplitRequest struct {
	MessageID string `json:"message_id"`
}

// SLAClockResponse is one derived SLA boundary.
type SLAClockResponse struct {
	Due              *time.Time `json:"due"`
	RemainingSeconds *int64     `json:"remaining_seconds"`
	Met              bool       `json:"met"`
	Breached         bool       `json:"breached"`
}

// SLAResponse groups both boundaries.
type SLAResponse struct {
	FirstResponse SLAClockResponse `json:"first_response"`
	Resolution    SLAClockResponse `json:"resolution"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID              string                `json:"id"`
	Number          int64                 `json:"number"`
	Subject         string                `json:"subject"`
	Description     string                `json:"description"`
	Status          domain.TicketStatus   `json:"status"`
	AllowedStatuses []domain.TicketStatus `json:"allowed_statuses"`
	Priority        domain.TicketPriority `json:"priority"`
	Type            string                `json:"type,omitempty"`
	Channel         domain.TicketChannel  `json:"channel"`
	Team            *string               `json:"team"`
	OwnerID         *string               `json:"owner_id"`
	CompanyID       *string               `json:"company_id"`
	ContactID       *string               `json:"contact_id"`
	OrderID         *string               `json:"order_id"`
	RequesterName   string                `json:"requester_name"`
	RequesterEmail  string                `json:"requester_email"`
	Tags            []string              `json:"tags"`
	CustomFields    map[string]any        `json:"custom_fields"`
	FirstResponseAt *time.Time            `json:"first_response_at"`
	ResolvedAt      *time.Time            `json:"resolved_at"`
	ClosedAt        *time.Time            `json:"closed_at"`
	SLA             SLAResponse           `json:"sla"`
	Version         int64                 `json:"version"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// TicketListResponse is one page of tickets.
type TicketListResponse struct {
	Data     []TicketResponse `json:"data"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// AuthorResponse identifies a message author.
type AuthorResponse struct {
	ID    string            `json:"id,omitempty"`
	Name  string            `json:"name,omitempty"`
	Email string            `json:"email,omitempty"`
	Type  domain.AuthorType `json:"type"`
}

// TicketMessageResponse represents thread message.
type TicketMessageResponse struct {
	ID          string              `json:"id"`
	TicketID    string              `json:"ticket_id"`
	Kind        domain.MessageKind  `json:"kind"`
	Body        string              `json:"body"`
	HTMLBody    string              `json:"html_body,omitempty"`
	Author      AuthorResponse      `json:"author"`
	Attachments []domain.Attachment `json:"attachments"`
	CreatedAt   time.Time           `json:"created_at"`
}

// TicketEventResponse is an audit trail entry.
type TicketEventResponse struct {
	ID        string           `json:"id"`
	Kind      domain.EventKind `json:"kind"`
	Actor     domain.Actor     `json:"actor"`
	Meta      map[string]any   `json:"meta"`
	CreatedAt time.Time        `json:"created_at"`
}

// TimelineEntryResponse holds either a message or an event.
type TimelineEntryResponse struct {
	Type    string                 `json:"type"`
	At      time.Time              `json:"at"`
	Message *TicketMessageResponse `json:"message,omitempty"`
	Event   *TicketEventResponse   `json:"event,omitempty"`
}

// NewTicketResponse maps a ticket, deriving the SLA view at now.
func NewTicketResponse(ticket *domain.Ticket, allowed []domain.TicketStatus, now time.Time) TicketResponse {
	tags := ticket.Tags
	if tags == nil {
		tags = []string{}
	}
	if allowed == nil {
		allowed = []domain.TicketStatus{}
	}
	view := sla.ViewOf(ticket, now)
	return TicketResponse{
		ID:              ticket.ID,
		Number:          ticket.Number,
		Subject:         ticket.Subject,
		Description:     ticket.Description,
		Status:          ticket.Status,
		AllowedStatuses: allowed,
		Priority:        ticket.Priority,
		Type:            ticket.Type,
		Channel:         ticket.Channel,
		Team:            ticket.Team,
		OwnerID:         ticket.OwnerID,
		CompanyID:       ticket.CompanyID,
		ContactID:       ticket.ContactID,
		OrderID:         ticket.OrderID,
		RequesterName:   ticket.RequesterName,
		RequesterEmail:  ticket.RequesterEmail,
		Tags:            tags,
		CustomFields:    ticket.CustomFields,
		FirstResponseAt: ticket.FirstResponseAt,
		ResolvedAt:      ticket.ResolvedAt,
		ClosedAt:        ticket.ClosedAt,
		SLA: SLAResponse{
			FirstResponse: newClock(view.FirstResponse),
			Resolution:    newClock(view.Resolution),
		},
		Version:   ticket.Version,
		CreatedAt: ticket.CreatedAt,
		UpdatedAt: ticket.UpdatedAt,
	}
}

func newClock(c sla.Clock) SLAClockResponse {
	out := SLAClockResponse{Due: c.Due, Met: c.Met, Breached: c.Breached}
	if c.Remaining != nil {
		seconds := int64(c.Remaining.Seconds())
		out.RemainingSeconds = &seconds
	}
	return out
}

// NewMessageResponse maps a message.
func NewMessageResponse(msg *domain.TicketMessage) TicketMessageResponse {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	return TicketMessageResponse{
		ID:       msg.ID,
		TicketID: msg.TicketID,
		Kind:     msg.Kind,
		Body:     msg.Body,
		HTMLBody: msg.HTMLBody,
		Author: AuthorResponse{
			ID:    msg.Author.ID,
			Name:  msg.Author.Name,
			Email: msg.Author.Email,
			Type:  msg.Author.Type,
		},
		Attachments: attachments,
		CreatedAt:   msg.CreatedAt,
	}
}

// NewTimelineResponse maps timeline entries in order.
func NewTimelineResponse(entries []domain.TimelineEntry) []TimelineEntryResponse {
	out := make([]TimelineEntryResponse, 0, len(entries))
	for _, entry := range entries {
		item := TimelineEntryResponse{At: entry.At}
		switch {
		case entry.Message != nil:
			msg := NewMessageResponse(entry.Message)
			item.Type = "message"
			item.Message = &msg
		case entry.Event != nil:
			item.Type = "event"
			item.Event = &TicketEventResponse{
				ID:        entry.Event.ID,
				Kind:      entry.Event.Kind,
				Actor:     entry.Event.Actor,
				Meta:      entry.Event.Meta,
				CreatedAt: entry.Event.CreatedAt,
			}
		default:
			continue
		}
		out = append(out, item)
	}
	return out
}
