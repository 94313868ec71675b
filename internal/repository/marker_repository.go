package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/persistence"
)

// MarkerRepository guards at-most-once processing of inbound messages.
//
// Claim reserves an external id for the caller. A claim younger than lease
// that was never finalized reports domain.ErrMarkerInProgress; an older one
// is taken over and reported as domain.ClaimResumed.
type MarkerRepository interface {
	Claim(ctx context.Context, externalID string, now time.Time, lease time.Duration) (domain.ClaimOutcome, error)
	Finalize(ctx context.Context, externalID, ticketID string, now time.Time) error
	Release(ctx context.Context, externalID string) error
	Get(ctx context.Context, externalID string) (*domain.ProcessedMarker, error)
}

type postgresMarkers struct {
	db persistence.DB
}

// NewMarkerRepository returns the processed_messages backed implementation.
func NewMarkerRepository(db persistence.DB) MarkerRepository {
	return &postgresMarkers{db: db}
}

func (r *postgresMarkers) Claim(ctx context.Context, externalID string, now time.Time, lease time.Duration) (domain.ClaimOutcome, error) {
	q := persistence.QuerierFromCtx(ctx, r.db)

	tag, err := q.Exec(ctx, `
        INSERT INTO processed_messages (external_id, processed, claimed_at) VALUES ($1, FALSE, $2)
        ON CONFLICT (external_id) DO NOTHING`, externalID, now)
	if err != nil {
		return 0, fmt.Errorf("claim marker: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return domain.ClaimAcquired, nil
	}

	var claimed string
	err = q.QueryRow(ctx, `
        UPDATE processed_messages SET claimed_at=$2
        WHERE external_id=$1 AND NOT processed AND claimed_at <= $3
        RETURNING external_id`, externalID, now, now.Add(-lease)).Scan(&claimed)
	if err == nil {
		return domain.ClaimResumed, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("resume marker: %w", err)
	}

	var processed bool
	if err := q.QueryRow(ctx, `SELECT processed FROM processed_messages WHERE external_id=$1`, externalID).Scan(&processed); err != nil {
		return 0, fmt.Errorf("read marker: %w", mapReadError(err))
	}
	if processed {
		return domain.ClaimAlreadyProcessed, nil
	}
	return 0, domain.ErrMarkerInProgress
}

func (r *postgresMarkers) Finalize(ctx context.Context, externalID, ticketID string, now time.Time) error {
	tag, err := persistence.QuerierFromCtx(ctx, r.db).Exec(ctx, `
        UPDATE processed_messages SET processed=TRUE, ticket_id=$2, finalized_at=$3
        WHERE external_id=$1`, externalID, ticketID, now)
	if err != nil {
		return fmt.Errorf("finalize marker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *postgresMarkers) Release(ctx context.Context, externalID string) error {
	_, err := persistence.QuerierFromCtx(ctx, r.db).Exec(ctx, `
        DELETE FROM processed_messages WHERE external_id=$1 AND NOT processed`, externalID)
	return err
}

func (r *postgresMarkers) Get(ctx context.Context, externalID string) (*domain.ProcessedMarker, error) {
	var marker domain.ProcessedMarker
	err := persistence.QuerierFromCtx(ctx, r.db).QueryRow(ctx, `
        SELECT external_id, processed, ticket_id, claimed_at, finalized_at
        FROM processed_messages WHERE external_id=$1`, externalID).Scan(
		&marker.ExternalID,
		&marker.Processed,
		&marker.TicketID,
		&marker.ClaimedAt,
		&marker.FinalizedAt,
	)
	if err != nil {
		return nil, mapReadError(err)
	}
	return &marker, nil
}

const (
	markerPending   = "pending"
	markerDone      = "done:"
	markerRetention = 30 * 24 * time.Hour
)

type redisMarkers struct {
	client redis.Cmdable
	prefix string
}

// NewRedisMarkerRepository keeps markers under processed_msg:<external id>.
// Finalized markers expire after thirty days.
func NewRedisMarkerRepository(client redis.Cmdable) MarkerRepository {
	return &redisMarkers{client: client, prefix: "processed_msg:"}
}

func (r *redisMarkers) key(externalID string) string {
	return r.prefix + externalID
}

func (r *redisMarkers) Claim(ctx context.Context, externalID string, now time.Time, lease time.Duration) (domain.ClaimOutcome, error) {
	ok, err := r.client.SetNX(ctx, r.key(externalID), markerPending, lease).Result()
	if err != nil {
		return 0, fmt.Errorf("claim marker: %w", err)
	}
	if ok {
		return domain.ClaimAcquired, nil
	}
	value, err := r.client.Get(ctx, r.key(externalID)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// the pending lease expired between SETNX and GET
		ok, err := r.client.SetNX(ctx, r.key(externalID), markerPending, lease).Result()
		if err != nil {
			return 0, fmt.Errorf("claim marker: %w", err)
		}
		if ok {
			return domain.ClaimResumed, nil
		}
		return 0, domain.ErrMarkerInProgress
	case err != nil:
		return 0, fmt.Errorf("read marker: %w", err)
	case strings.HasPrefix(value, markerDone):
		return domain.ClaimAlreadyProcessed, nil
	default:
		return 0, domain.ErrMarkerInProgress
	}
}

func (r *redisMarkers) Finalize(ctx context.Context, externalID, ticketID string, now time.Time) error {
	if err := r.client.Set(ctx, r.key(externalID), markerDone+ticketID, markerRetention).Err(); err != nil {
		return fmt.Errorf("finalize marker: %w", err)
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *redisMarkers) Release(ctx context.Context, externalID string) error {
	return releaseScript.Run(ctx, r.client, []string{r.key(externalID)}, markerPending).Err()
}

func (r *redisMarkers) Get(ctx context.Context, externalID string) (*domain.ProcessedMarker, error) {
	value, err := r.client.Get(ctx, r.key(externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	marker := &domain.ProcessedMarker{ExternalID: externalID}
	if ticketID, ok := strings.CutPrefix(value, markerDone); ok {
		marker.Processed = true
		marker.TicketID = &ticketID
	}
	return marker, nil
}
