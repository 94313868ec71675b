// Package sla computes SLA due dates from per-priority policies and derives
// the remaining-time values shown to agents.
package sla

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deskflow/helpdesk-engine/internal/config"
	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/repository"
)

// PolicyTable is an immutable snapshot of priority → policy.
type PolicyTable struct {
	version  int64
	policies map[domain.TicketPriority]domain.SLAPolicy
}

// NewPolicyTable builds a snapshot. Later entries win on duplicate priorities.
func NewPolicyTable(version int64, policies []domain.SLAPolicy) *PolicyTable {
	table := &PolicyTable{
		version:  version,
		policies: make(map[domain.TicketPriority]domain.SLAPolicy, len(policies)),
	}
	for _, p := range policies {
		table.policies[p.Priority] = p
	}
	return table
}

// Version identifies the snapshot; it grows with every reload.
func (t *PolicyTable) Version() int64 {
	return t.version
}

// Lookup returns the active policy for priority.
func (t *PolicyTable) Lookup(priority domain.TicketPriority) (domain.SLAPolicy, bool) {
	policy, ok := t.policies[priority]
	if !ok || !policy.Active {
		return domain.SLAPolicy{}, false
	}
	return policy, true
}

// Policies lists the snapshot in priority order.
func (t *PolicyTable) Policies() []domain.SLAPolicy {
	out := make([]domain.SLAPolicy, 0, len(t.policies))
	for _, priority := range domain.TicketPriorities {
		if p, ok := t.policies[priority]; ok {
			out = append(out, p)
		}
	}
	return out
}

// ComputeDue returns the first-response and resolution deadlines for a
// ticket whose SLA clock starts at from.
func ComputeDue(policy domain.SLAPolicy, from time.Time) (firstResponse, resolution time.Time) {
	firstResponse = from.Add(time.Duration(policy.FirstResponseMinutes) * time.Minute)
	resolution = from.Add(time.Duration(policy.ResolutionMinutes) * time.Minute)
	return firstResponse, resolution
}

// Apply stamps due dates on ticket from the active policy for its priority.
// Breach flags are cleared because they refer to the replaced deadlines.
// Without an active policy the deadlines are removed.
func (t *PolicyTable) Apply(ticket *domain.Ticket, from time.Time) {
	ticket.FirstResponseBreachedAt = nil
	ticket.ResolutionBreachedAt = nil
	policy, ok := t.Lookup(ticket.Priority)
	if !ok {
		ticket.FirstResponseDue = nil
		ticket.ResolutionDue = nil
		return
	}
	firstResponse, resolution := ComputeDue(policy, from)
	ticket.FirstResponseDue = &firstResponse
	ticket.ResolutionDue = &resolution
}

// DefaultPolicies builds the fallback table from configuration.
func DefaultPolicies(cfg config.SLAConfig) []domain.SLAPolicy {
	return []domain.SLAPolicy{
		{Priority: domain.TicketPriorityUrgent, FirstResponseMinutes: cfg.UrgentFirstResponseMinutes, ResolutionMinutes: cfg.UrgentResolutionMinutes, Active: true},
		{Priority: domain.TicketPriorityHigh, FirstResponseMinutes: cfg.HighFirstResponseMinutes, ResolutionMinutes: cfg.HighResolutionMinutes, Active: true},
		{Priority: domain.TicketPriorityNormal, FirstResponseMinutes: cfg.NormalFirstResponseMinutes, ResolutionMinutes: cfg.NormalResolutionMinutes, Active: true},
		{Priority: domain.TicketPriorityLow, FirstResponseMinutes: cfg.LowFirstResponseMinutes, ResolutionMinutes: cfg.LowResolutionMinutes, Active: true},
	}
}

// Provider serves the current PolicyTable and swaps it atomically on reload.
type Provider struct {
	repo     repository.SLAPolicyRepository
	fallback []domain.SLAPolicy
	current  atomic.Pointer[PolicyTable]

	mu      sync.Mutex
	version int64
}

// NewProvider starts with the fallback policies; call Reload to read repo.
func NewProvider(repo repository.SLAPolicyRepository, fallback []domain.SLAPolicy) *Provider {
	p := &Provider{repo: repo, fallback: fallback, version: 1}
	p.current.Store(NewPolicyTable(1, fallback))
	return p
}

// Table returns the snapshot in effect.
func (p *Provider) Table() *PolicyTable {
	return p.current.Load()
}

// Reload reads policies from the repository. An empty result keeps the
// fallback policies in force.
func (p *Provider) Reload(ctx context.Context) (*PolicyTable, error) {
	policies := p.fallback
	if p.repo != nil {
		stored, err := p.repo.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("load sla policies: %w", err)
		}
		if len(stored) > 0 {
			policies = stored
		}
	}
	for _, policy := range policies {
		if !policy.Priority.Valid() {
			return nil, fmt.Errorf("sla policy has unknown priority %q", policy.Priority)
		}
		if policy.Active && (policy.FirstResponseMinutes <= 0 || policy.ResolutionMinutes <= 0) {
			return nil, fmt.Errorf("sla policy %s must have positive minutes", policy.Priority)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.version++
	table := NewPolicyTable(p.version, policies)
	p.current.Store(table)
	return table, nil
}
