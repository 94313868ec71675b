package domain

import (
	"sort"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusNew             TicketStatus = "new"
	TicketStatusAck             TicketStatus = "ack"
	TicketStatusInProgress      TicketStatus = "in_progress"
	TicketStatusWaitingCustomer TicketStatus = "waiting_customer"
	TicketStatusResolved        TicketStatus = "resolved"
	TicketStatusClosed          TicketStatus = "closed"
)

// TicketStatuses lists every status in lifecycle order.
var TicketStatuses = []TicketStatus{
	TicketStatusNew,
	TicketStatusAck,
	TicketStatusInProgress,
	TicketStatusWaitingCustomer,
	TicketStatusResolved,
	TicketStatusClosed,
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	for _, candidate := range TicketStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// TicketPriority enumerates SLA urgency, p1 (urgent) through p4 (low).
type TicketPriority string

const (
	TicketPriorityUrgent TicketPriority = "urgent"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityNormal TicketPriority = "normal"
	TicketPriorityLow    TicketPriority = "low"
)

// TicketPriorities lists priorities from most to least urgent.
var TicketPriorities = []TicketPriority{
	TicketPriorityUrgent,
	TicketPriorityHigh,
	TicketPriorityNormal,
	TicketPriorityLow,
}

// ParsePriority accepts both names ("urgent") and tiers ("p1").
func ParsePriority(raw string) (TicketPriority, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "urgent", "p1":
		return TicketPriorityUrgent, true
	case "high", "p2":
		return TicketPriorityHigh, true
	case "normal", "medium", "p3":
		return TicketPriorityNormal, true
	case "low", "p4":
		return TicketPriorityLow, true
	}
	return "", false
}

// Valid reports whether p is a known priority.
func (p TicketPriority) Valid() bool {
	for _, candidate := range TicketPriorities {
		if candidate == p {
			return true
		}
	}
	return false
}

// TicketChannel records where a ticket originated.
type TicketChannel string

const (
	TicketChannelEmail  TicketChannel = "email"
	TicketChannelPortal TicketChannel = "portal"
	TicketChannelWeb    TicketChannel = "web"
)

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID             string
	OrganizationID string
	Number         int64
	Subject        string
	Description    string
	Status         TicketStatus
	Priority       TicketPriority
	Type           string
	Channel        TicketChannel
	Team           *string
	OwnerID        *string
	CompanyID      *string
	ContactID      *string
	OrderID        *string
	RequesterName  string
	RequesterEmail string
	Tags           []string
	CustomFields   map[string]any

	FirstResponseDue        *time.Time
	ResolutionDue           *time.Time
	FirstResponseAt         *time.Time
	ResolvedAt              *time.Time
	ClosedAt                *time.Time
	FirstResponseBreachedAt *time.Time
	ResolutionBreachedAt    *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOpen reports whether the ticket still counts against its SLA.
func (t *Ticket) IsOpen() bool {
	return t.Status != TicketStatusResolved && t.Status != TicketStatusClosed
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Team = cloneString(t.Team)
	cp.OwnerID = cloneString(t.OwnerID)
	cp.CompanyID = cloneString(t.CompanyID)
	cp.ContactID = cloneString(t.ContactID)
	cp.OrderID = cloneString(t.OrderID)
	cp.FirstResponseDue = cloneTime(t.FirstResponseDue)
	cp.ResolutionDue = cloneTime(t.ResolutionDue)
	cp.FirstResponseAt = cloneTime(t.FirstResponseAt)
	cp.ResolvedAt = cloneTime(t.ResolvedAt)
	cp.ClosedAt = cloneTime(t.ClosedAt)
	cp.FirstResponseBreachedAt = cloneTime(t.FirstResponseBreachedAt)
	cp.ResolutionBreachedAt = cloneTime(t.ResolutionBreachedAt)
	if t.Tags != nil {
		cp.Tags = append([]string(nil), t.Tags...)
	}
	if t.CustomFields != nil {
		cp.CustomFields = make(map[string]any, len(t.CustomFields))
		for k, v := range t.CustomFields {
			cp.CustomFields[k] = v
		}
	}
	return &cp
}

// NormalizeTags trims, lowercases and de-duplicates tags into a sorted set.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
