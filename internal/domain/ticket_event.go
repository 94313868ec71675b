package domain

import "time"

// EventKind captures what changed in a timeline event.
type EventKind string

const (
	EventKindStatusChanged   EventKind = "status_changed"
	EventKindAssigned        EventKind = "assigned"
	EventKindPriorityChanged EventKind = "priority_changed"
	EventKindMerged          EventKind = "merged"
	EventKindSplit           EventKind = "split"
	EventKindSLABreached     EventKind = "sla_breached"
)

// Actor identifies who caused an event.
type Actor struct {
	ID   string     `json:"id"`
	Name string     `json:"name,omitempty"`
	Type AuthorType `json:"type"`
}

// SystemActor is the actor for engine-initiated changes.
var SystemActor = Actor{ID: "system", Type: AuthorTypeSystem}

// ActorFromAuthor derives the event actor from a message author.
func ActorFromAuthor(a Author) Actor {
	return Actor{ID: a.ID, Name: a.Name, Type: a.Type}
}

// TicketEvent is an immutable audit trail entry.
type TicketEvent struct {
	ID        string
	TicketID  string
	Kind      EventKind
	Actor     Actor
	Meta      map[string]any
	CreatedAt time.Time
}

// SLABoundary names one of the two independent SLA deadlines.
type SLABoundary string

const (
	SLABoundaryFirstResponse SLABoundary = "first_response"
	SLABoundaryResolution    SLABoundary = "resolution"
)

// TimelineEntry is either a message or an event, ordered by time.
type TimelineEntry struct {
	At      time.Time
	Message *TicketMessage
	Event   *TicketEvent
}
