package domain

import "time"

// AuthorType indicates who authored a message or triggered an event.
type AuthorType string

const (
	AuthorTypeCustomer AuthorType = "customer"
	AuthorTypeAgent    AuthorType = "agent"
	AuthorTypeSystem   AuthorType = "system"
)

// MessageKind differentiates customer-visible replies from internal notes.
// A message's kind never changes after creation.
type MessageKind string

const (
	MessageKindPublicReply  MessageKind = "public_reply"
	MessageKindInternalNote MessageKind = "internal_note"
)

// Valid reports whether k is a known message kind.
func (k MessageKind) Valid() bool {
	return k == MessageKindPublicReply || k == MessageKindInternalNote
}

// Author identifies the sender of a message.
type Author struct {
	ID    string
	Name  string
	Email string
	Type  AuthorType
}

// SystemAuthor is used for engine generated content.
var SystemAuthor = Author{ID: "system", Name: "Support", Type: AuthorTypeSystem}

// Attachment stores metadata for ticket message attachments.
type Attachment struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// TicketMessage captures communications in a ticket thread.
type TicketMessage struct {
	ID          string
	TicketID    string
	Kind        MessageKind
	Body        string
	HTMLBody    string
	Author      Author
	Attachments []Attachment
	ExternalID  *string
	CreatedAt   time.Time
}

// CustomerVisible reports whether the requester may see the message.
func (m *TicketMessage) CustomerVisible() bool {
	return m.Kind == MessageKindPublicReply
}

// IsFirstResponse reports whether the message satisfies the first-response milestone.
func (m *TicketMessage) IsFirstResponse() bool {
	return m.Kind == MessageKindPublicReply && m.Author.Type == AuthorTypeAgent
}
