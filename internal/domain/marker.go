package domain

import "time"

// ProcessedMarker records that an inbound message started or finished processing.
type ProcessedMarker struct {
	ExternalID  string
	Processed   bool
	TicketID    *string
	ClaimedAt   time.Time
	FinalizedAt *time.Time
}

// ClaimOutcome describes the result of claiming a marker.
type ClaimOutcome int

const (
	// ClaimAcquired means the message was never seen before.
	ClaimAcquired ClaimOutcome = iota
	// ClaimResumed means an earlier attempt stalled before finalizing.
	ClaimResumed
	// ClaimAlreadyProcessed means the message was finalized earlier.
	ClaimAlreadyProcessed
)
