package repository

import (
	"context"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/persistence"
)

// SLAPolicyRepository reads the per-priority SLA budgets.
type SLAPolicyRepository interface {
	List(ctx context.Context) ([]domain.SLAPolicy, error)
}

type slaPolicyRepository struct {
	db persistence.DB
}

// NewSLAPolicyRepository builds repository.
func NewSLAPolicyRepository(db persistence.DB) SLAPolicyRepository {
	return &slaPolicyRepository{db: db}
}

func (r *slaPolicyRepository) List(ctx context.Context) ([]domain.SLAPolicy, error) {
	const query = `
        SELECT priority, first_response_minutes, resolution_minutes, active
        FROM sla_policies ORDER BY priority`
	rows, err := persistence.QuerierFromCtx(ctx, r.db).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SLAPolicy
	for rows.Next() {
		var policy domain.SLAPolicy
		if err := rows.Scan(
			&policy.Priority,
			&policy.FirstResponseMinutes,
			&policy.ResolutionMinutes,
			&policy.Active,
		); err != nil {
			return nil, err
		}
		result = append(result, policy)
	}
	return result, rows.Err()
}
