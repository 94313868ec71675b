package repository

import (
	"context"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/persistence"
)

// TicketEventRepository stores the append-only audit trail.
type TicketEventRepository interface {
	Create(ctx context.Context, event *domain.TicketEvent) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error)
}

type ticketEventRepository struct {
	db persistence.DB
}

// NewTicketEventRepository builds repository.
func NewTicketEventRepository(db persistence.DB) TicketEventRepository {
	return &ticketEventRepository{db: db}
}

func (r *ticketEventRepository) Create(ctx context.Context, event *domain.TicketEvent) error {
	const query = `
        INSERT INTO ticket_events (id, ticket_id, kind, actor, meta, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := persistence.QuerierFromCtx(ctx, r.db).Exec(ctx, query,
		event.ID,
		event.TicketID,
		string(event.Kind),
		event.Actor,
		nonNilFields(event.Meta),
		event.CreatedAt,
	)
	return mapWriteError(err)
}

func (r *ticketEventRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketEvent, error) {
	const query = `
        SELECT id, ticket_id, kind, actor, meta, created_at
        FROM ticket_events WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := persistence.QuerierFromCtx(ctx, r.db).Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketEvent
	for rows.Next() {
		var event domain.TicketEvent
		if err := rows.Scan(
			&event.ID,
			&event.TicketID,
			&event.Kind,
			&event.Actor,
			&event.Meta,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}
