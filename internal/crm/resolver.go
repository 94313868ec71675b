package crm

import (
	"context"
	"errors"
	"strings"

	"github.com/deskflow/helpdesk-engine/internal/domain"
)

// Match is the CRM association for a sender. Either field may be nil.
type Match struct {
	ContactID *string
	CompanyID *string
}

// Resolver associates sender addresses with CRM contacts and companies.
type Resolver struct {
	directory Directory
	policies  *PolicyStore
}

// NewResolver builds a Resolver.
func NewResolver(directory Directory, policies *PolicyStore) *Resolver {
	return &Resolver{directory: directory, policies: policies}
}

// Resolve prefers an exact contact match. Otherwise the sender's domain is
// matched to a company unless the current DomainPolicy blocks it.
func (r *Resolver) Resolve(ctx context.Context, email string) (Match, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Match{}, nil
	}

	contact, err := r.directory.ContactByEmail(ctx, email)
	switch {
	case err == nil:
		id := contact.ID
		return Match{ContactID: &id, CompanyID: contact.CompanyID}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return Match{}, err
	}

	at := strings.LastIndexByte(email, '@')
	if at < 0 || at == len(email)-1 {
		return Match{}, nil
	}
	senderDomain := email[at+1:]
	if r.policies != nil && r.policies.Current().Blocked(senderDomain) {
		return Match{}, nil
	}
	company, err := r.directory.CompanyByDomain(ctx, senderDomain)
	switch {
	case err == nil:
		id := company.ID
		return Match{CompanyID: &id}, nil
	case errors.Is(err, domain.ErrNotFound):
		return Match{}, nil
	}
	return Match{}, err
}
