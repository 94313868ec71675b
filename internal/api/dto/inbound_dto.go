package dto

import "github.com/deskflow/helpdesk-engine/internal/service"

// InboundResponse reports what the correlator did with a delivered email.
type InboundResponse struct {
	Outcome      service.IngestOutcome `json:"outcome"`
	TicketID     string                `json:"ticket_id,omitempty"`
	TicketNumber int64                 `json:"ticket_number,omitempty"`
	MessageID    string                `json:"message_id,omitempty"`
	AutoReplied  bool                  `json:"auto_replied"`
}

// NewInboundResponse maps an ingest result.
func NewInboundResponse(result *service.IngestResult) InboundResponse {
	return InboundResponse{
		Outcome:      result.Outcome,
		TicketID:     result.TicketID,
		TicketNumber: result.TicketNumber,
		MessageID:    result.MessageID,
		AutoReplied:  result.AutoReplied,
	}
}
