// Package crm resolves inbound senders to CRM contacts and companies. The
// engine only holds weak references to CRM rows and never writes them.
package crm

import (
	"context"
	"strings"
	"sync"

	"github.com/georgysavva/scany/v2/pgxscan"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/persistence"
)

// Contact is a CRM person record.
type Contact struct {
	ID        string  `db:"id"`
	Email     string  `db:"email"`
	Name      string  `db:"name"`
	CompanyID *string `db:"company_id"`
}

// Company is a CRM organization record.
type Company struct {
	ID     string  `db:"id"`
	Name   string  `db:"name"`
	Domain *string `db:"domain"`
}

// Directory looks up CRM records. Missing records yield domain.ErrNotFound.
type Directory interface {
	ContactByEmail(ctx context.Context, email string) (*Contact, error)
	CompanyByDomain(ctx context.Context, domain string) (*Company, error)
}

type postgresDirectory struct {
	db persistence.DB
}

// NewPostgresDirectory reads the crm_contacts and crm_companies tables.
func NewPostgresDirectory(db persistence.DB) Directory {
	return &postgresDirectory{db: db}
}

func (d *postgresDirectory) ContactByEmail(ctx context.Context, email string) (*Contact, error) {
	var contact Contact
	err := pgxscan.Get(ctx, persistence.QuerierFromCtx(ctx, d.db), &contact,
		`SELECT id, email, name, company_id FROM crm_contacts WHERE lower(email) = lower($1)`, email)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &contact, nil
}

func (d *postgresDirectory) CompanyByDomain(ctx context.Context, companyDomain string) (*Company, error) {
	var companies []Company
	err := pgxscan.Select(ctx, persistence.QuerierFromCtx(ctx, d.db), &companies,
		`SELECT id, name, domain FROM crm_companies WHERE lower(domain) = lower($1) ORDER BY id LIMIT 2`, companyDomain)
	if err != nil {
		return nil, err
	}
	// an ambiguous domain is not auto-associated
	if len(companies) != 1 {
		return nil, domain.ErrNotFound
	}
	return &companies[0], nil
}

// StaticDirectory is an in-memory Directory.
type StaticDirectory struct {
	mu        sync.RWMutex
	contacts  map[string]Contact
	companies map[string]Company
}

// NewStaticDirectory returns an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		contacts:  make(map[string]Contact),
		companies: make(map[string]Company),
	}
}

// AddContact registers a contact by email.
func (d *StaticDirectory) AddContact(c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[strings.ToLower(c.Email)] = c
}

// AddCompany registers a company by domain.
func (d *StaticDirectory) AddCompany(c Company) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.Domain != nil {
		d.companies[strings.ToLower(*c.Domain)] = c
	}
}

func (d *StaticDirectory) ContactByEmail(ctx context.Context, email string) (*Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[strings.ToLower(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (d *StaticDirectory) CompanyByDomain(ctx context.Context, companyDomain string) (*Company, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.companies[strings.ToLower(companyDomain)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}
