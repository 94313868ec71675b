package crm

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// DomainPolicy is an immutable snapshot of sender domains that must never be
// auto-associated with a company, such as free-mail providers.
type DomainPolicy struct {
	version int64
	blocked map[string]struct{}
}

// NewDomainPolicy builds a snapshot.
func NewDomainPolicy(version int64, blocked []string) *DomainPolicy {
	p := &DomainPolicy{version: version, blocked: make(map[string]struct{}, len(blocked))}
	for _, d := range blocked {
		if d = normalizeDomain(d); d != "" {
			p.blocked[d] = struct{}{}
		}
	}
	return p
}

// Version identifies the snapshot.
func (p *DomainPolicy) Version() int64 {
	return p.version
}

// Blocked reports whether domain, or any parent of it, is blocked.
func (p *DomainPolicy) Blocked(domain string) bool {
	domain = normalizeDomain(domain)
	for domain != "" {
		if _, ok := p.blocked[domain]; ok {
			return true
		}
		dot := strings.IndexByte(domain, '.')
		if dot < 0 {
			break
		}
		domain = domain[dot+1:]
	}
	return false
}

// Domains lists the blocked domains.
func (p *DomainPolicy) Domains() []string {
	out := make([]string, 0, len(p.blocked))
	for d := range p.blocked {
		out = append(out, d)
	}
	return out
}

// PolicyStore publishes DomainPolicy snapshots. Replacing the list bumps the version.
type PolicyStore struct {
	mu      sync.Mutex
	version int64
	current atomic.Pointer[DomainPolicy]
}

// NewPolicyStore starts at version 1 with blocked.
func NewPolicyStore(blocked []string) *PolicyStore {
	s := &PolicyStore{version: 1}
	s.current.Store(NewDomainPolicy(1, blocked))
	return s
}

// Current returns the snapshot in effect.
func (s *PolicyStore) Current() *DomainPolicy {
	return s.current.Load()
}

// Replace installs a new blocked list and returns the new snapshot.
func (s *PolicyStore) Replace(blocked []string) *DomainPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version++
	policy := NewDomainPolicy(s.version, blocked)
	s.current.Store(policy)
	return policy
}

type policyFile struct {
	BlockedDomains []string `yaml:"blocked_domains"`
}

// LoadFile replaces the blocked list with the one in a YAML file.
func (s *PolicyStore) LoadFile(path string) (*DomainPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain policy: %w", err)
	}
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse domain policy: %w", err)
	}
	return s.Replace(file.BlockedDomains), nil
}

func normalizeDomain(d string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(d)), ".")
}
