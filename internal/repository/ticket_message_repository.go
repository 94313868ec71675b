package repository

import (
	"context"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/persistence"
)

// TicketMessageRepository manages ticket thread messages.
type TicketMessageRepository interface {
	Create(ctx context.Context, msg *domain.TicketMessage) error
	GetByID(ctx context.Context, id string) (*domain.TicketMessage, error)
	GetByExternalID(ctx context.Context, externalID string) (*domain.TicketMessage, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error)
}

const messageColumns = `id, ticket_id, kind, body, html_body, author_id, author_name, author_email, author_type,
       attachments, external_id, created_at`

type ticketMessageRepository struct {
	db persistence.DB
}

// NewTicketMessageRepository builds repository.
func NewTicketMessageRepository(db persistence.DB) TicketMessageRepository {
	return &ticketMessageRepository{db: db}
}

func (r *ticketMessageRepository) Create(ctx context.Context, msg *domain.TicketMessage) error {
	const query = `
        INSERT INTO ticket_messages (id, ticket_id, kind, body, html_body, author_id, author_name, author_email,
            author_type, attachments, external_id, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []domain.Attachment{}
	}
	_, err := persistence.QuerierFromCtx(ctx, r.db).Exec(ctx, query,
		msg.ID,
		msg.TicketID,
		string(msg.Kind),
		msg.Body,
		msg.HTMLBody,
		msg.Author.ID,
		msg.Author.Name,
		msg.Author.Email,
		string(msg.Author.Type),
		attachments,
		msg.ExternalID,
		msg.CreatedAt,
	)
	return mapWriteError(err)
}

func (r *ticketMessageRepository) GetByID(ctx context.Context, id string) (*domain.TicketMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM ticket_messages WHERE id=$1`
	return scanMessage(persistence.QuerierFromCtx(ctx, r.db).QueryRow(ctx, query, id))
}

func (r *ticketMessageRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.TicketMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM ticket_messages WHERE external_id=$1`
	return scanMessage(persistence.QuerierFromCtx(ctx, r.db).QueryRow(ctx, query, externalID))
}

func (r *ticketMessageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM ticket_messages WHERE ticket_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := persistence.QuerierFromCtx(ctx, r.db).Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *msg)
	}
	return result, rows.Err()
}

func scanMessage(row rowScanner) (*domain.TicketMessage, error) {
	var msg domain.TicketMessage
	if err := row.Scan(
		&msg.ID,
		&msg.TicketID,
		&msg.Kind,
		&msg.Body,
		&msg.HTMLBody,
		&msg.Author.ID,
		&msg.Author.Name,
		&msg.Author.Email,
		&msg.Author.Type,
		&msg.Attachments,
		&msg.ExternalID,
		&msg.CreatedAt,
	); err != nil {
		return nil, mapReadError(err)
	}
	return &msg, nil
}
