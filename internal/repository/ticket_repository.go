package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/persistence"
)

// TicketSortField names the columns tickets can be ordered by.
type TicketSortField string

const (
	SortByCreatedAt     TicketSortField = "created_at"
	SortByUpdatedAt     TicketSortField = "updated_at"
	SortByPriority      TicketSortField = "priority"
	SortByNumber        TicketSortField = "number"
	SortByResolutionDue TicketSortField = "resolution_due"
)

// Valid reports whether f is a supported sort field.
func (f TicketSortField) Valid() bool {
	switch f {
	case SortByCreatedAt, SortByUpdatedAt, SortByPriority, SortByNumber, SortByResolutionDue:
		return true
	}
	return false
}

// TicketFilter captures agent list parameters.
type TicketFilter struct {
	OrganizationID string
	Statuses       []domain.TicketStatus
	Priorities     []domain.TicketPriority
	Team           *string
	OwnerID        *string
	CompanyID      *string
	SearchTerm     *string
	SortField      TicketSortField
	SortDesc       bool
	Limit          int
	Offset         int
}

// TicketRepository encapsulates ticket persistence.
//
// Update is optimistic: it only applies when the stored version equals
// ticket.Version and bumps the version on success. A stale version yields
// domain.ErrVersionConflict.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	GetByNumber(ctx context.Context, organizationID string, number int64) (*domain.Ticket, error)
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error)
	Search(ctx context.Context, organizationID, term string, limit int) ([]domain.Ticket, error)
	ListBreachCandidates(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error)
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const ticketColumns = `id, organization_id, number, subject, description, status, priority, type, channel,
       team, owner_id, company_id, contact_id, order_id, requester_name, requester_email, tags, custom_fields,
       first_response_due, resolution_due, first_response_at, resolved_at, closed_at,
       first_response_breached_at, resolution_breached_at, version, created_at, updated_at`

const priorityRank = `CASE priority WHEN 'urgent' THEN 1 WHEN 'high' THEN 2 WHEN 'normal' THEN 3 ELSE 4 END`

type ticketRepository struct {
	db persistence.DB
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db persistence.DB) TicketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, organization_id, number, subject, description, status, priority, type, channel,
            team, owner_id, company_id, contact_id, order_id, requester_name, requester_email, tags, custom_fields,
            first_response_due, resolution_due, first_response_at, resolved_at, closed_at,
            first_response_breached_at, resolution_breached_at, version, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,1,$26,$27)`
	_, err := persistence.QuerierFromCtx(ctx, r.db).Exec(ctx, query,
		ticket.ID,
		ticket.OrganizationID,
		ticket.Number,
		ticket.Subject,
		ticket.Description,
		string(ticket.Status),
		string(ticket.Priority),
		ticket.Type,
		string(ticket.Channel),
		ticket.Team,
		ticket.OwnerID,
		ticket.CompanyID,
		ticket.ContactID,
		ticket.OrderID,
		ticket.RequesterName,
		ticket.RequesterEmail,
		nonNilTags(ticket.Tags),
		nonNilFields(ticket.CustomFields),
		ticket.FirstResponseDue,
		ticket.ResolutionDue,
		ticket.FirstResponseAt,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.FirstResponseBreachedAt,
		ticket.ResolutionBreachedAt,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	if err != nil {
		return mapWriteError(err)
	}
	ticket.Version = 1
	return nil
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET subject=$1, description=$2, status=$3, priority=$4, type=$5,
            team=$6, owner_id=$7, company_id=$8, contact_id=$9, order_id=$10, tags=$11, custom_fields=$12,
            first_response_due=$13, resolution_due=$14, first_response_at=$15, resolved_at=$16, closed_at=$17,
            first_response_breached_at=$18, resolution_breached_at=$19, updated_at=$20, version=version+1
        WHERE id=$21 AND version=$22
        RETURNING version`
	q := persistence.QuerierFromCtx(ctx, r.db)
	var version int64
	err := q.QueryRow(ctx, query,
		ticket.Subject,
		ticket.Description,
		string(ticket.Status),
		string(ticket.Priority),
		ticket.Type,
		ticket.Team,
		ticket.OwnerID,
		ticket.CompanyID,
		ticket.ContactID,
		ticket.OrderID,
		nonNilTags(ticket.Tags),
		nonNilFields(ticket.CustomFields),
		ticket.FirstResponseDue,
		ticket.ResolutionDue,
		ticket.FirstResponseAt,
		ticket.ResolvedAt,
		ticket.ClosedAt,
		ticket.FirstResponseBreachedAt,
		ticket.ResolutionBreachedAt,
		ticket.UpdatedAt,
		ticket.ID,
		ticket.Version,
	).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id=$1)`, ticket.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return domain.ErrVersionConflict
		}
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	ticket.Version = version
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	return scanTicket(persistence.QuerierFromCtx(ctx, r.db).QueryRow(ctx, query, id))
}

func (r *ticketRepository) GetByNumber(ctx context.Context, organizationID string, number int64) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE organization_id=$1 AND number=$2`
	return scanTicket(persistence.QuerierFromCtx(ctx, r.db).QueryRow(ctx, query, organizationID, number))
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	q := persistence.QuerierFromCtx(ctx, r.db)

	countSQL, countArgs, err := applyTicketFilter(psql.Select("COUNT(*)").From("tickets"), filter).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := q.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	builder := applyTicketFilter(psql.Select(ticketColumns).From("tickets"), filter).
		OrderBy(orderClause(filter.SortField, filter.SortDesc), "number DESC")
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	tickets, err := r.queryTickets(ctx, q, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

func (r *ticketRepository) Search(ctx context.Context, organizationID, term string, limit int) ([]domain.Ticket, error) {
	builder := applyTicketFilter(psql.Select(ticketColumns).From("tickets"), TicketFilter{
		OrganizationID: organizationID,
		SearchTerm:     &term,
	}).OrderBy("updated_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}
	return r.queryTickets(ctx, persistence.QuerierFromCtx(ctx, r.db), query, args...)
}

func (r *ticketRepository) ListBreachCandidates(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	builder := psql.Select(ticketColumns).From("tickets").
		Where(sq.NotEq{"status": []string{string(domain.TicketStatusResolved), string(domain.TicketStatusClosed)}}).
		Where(sq.Or{
			sq.And{
				sq.Eq{"first_response_breached_at": nil, "first_response_at": nil},
				sq.LtOrEq{"first_response_due": now},
			},
			sq.And{
				sq.Eq{"resolution_breached_at": nil},
				sq.LtOrEq{"resolution_due": now},
			},
		}).
		OrderBy("created_at ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build breach query: %w", err)
	}
	return r.queryTickets(ctx, persistence.QuerierFromCtx(ctx, r.db), query, args...)
}

func (r *ticketRepository) queryTickets(ctx context.Context, q persistence.Querier, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func applyTicketFilter(builder sq.SelectBuilder, filter TicketFilter) sq.SelectBuilder {
	if filter.OrganizationID != "" {
		builder = builder.Where(sq.Eq{"organization_id": filter.OrganizationID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		builder = builder.Where(sq.Eq{"status": statuses})
	}
	if len(filter.Priorities) > 0 {
		priorities := make([]string, len(filter.Priorities))
		for i, p := range filter.Priorities {
			priorities[i] = string(p)
		}
		builder = builder.Where(sq.Eq{"priority": priorities})
	}
	if filter.Team != nil {
		builder = builder.Where(sq.Eq{"team": *filter.Team})
	}
	if filter.OwnerID != nil {
		builder = builder.Where(sq.Eq{"owner_id": *filter.OwnerID})
	}
	if filter.CompanyID != nil {
		builder = builder.Where(sq.Eq{"company_id": *filter.CompanyID})
	}
	if filter.SearchTerm != nil {
		if term := strings.TrimSpace(*filter.SearchTerm); term != "" {
			pattern := "%" + escapeLike(term) + "%"
			match := sq.Or{
				sq.ILike{"subject": pattern},
				sq.ILike{"description": pattern},
			}
			if number, ok := ParseTicketNumber(term); ok {
				match = append(match, sq.Eq{"number": number})
			}
			builder = builder.Where(match)
		}
	}
	return builder
}

func orderClause(field TicketSortField, desc bool) string {
	var column string
	switch field {
	case SortByPriority:
		column = priorityRank
	case SortByUpdatedAt, SortByNumber, SortByResolutionDue:
		column = string(field)
	default:
		column = string(SortByCreatedAt)
	}
	if desc {
		return column + " DESC"
	}
	return column + " ASC"
}

// ParseTicketNumber accepts "123" and "#123".
func ParseTicketNumber(term string) (int64, bool) {
	term = strings.TrimPrefix(strings.TrimSpace(term), "#")
	n, err := strconv.ParseInt(term, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var ticket domain.Ticket
	if err := row.Scan(
		&ticket.ID,
		&ticket.OrganizationID,
		&ticket.Number,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Type,
		&ticket.Channel,
		&ticket.Team,
		&ticket.OwnerID,
		&ticket.CompanyID,
		&ticket.ContactID,
		&ticket.OrderID,
		&ticket.RequesterName,
		&ticket.RequesterEmail,
		&ticket.Tags,
		&ticket.CustomFields,
		&ticket.FirstResponseDue,
		&ticket.ResolutionDue,
		&ticket.FirstResponseAt,
		&ticket.ResolvedAt,
		&ticket.ClosedAt,
		&ticket.FirstResponseBreachedAt,
		&ticket.ResolutionBreachedAt,
		&ticket.Version,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, mapReadError(err)
	}
	return &ticket, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilFields(fields map[string]any) map[string]any {
	if fields == nil {
		return map[string]any{}
	}
	return fields
}
