package domain

// SLAPolicy holds the time budgets for one priority tier.
type SLAPolicy struct {
	Priority             TicketPriority
	FirstResponseMinutes int
	ResolutionMinutes    int
	Active               bool
}
