package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/persistence"
)

// SequenceAllocator hands out strictly increasing ticket numbers per organization.
// Two concurrent calls never receive the same number; gaps are allowed.
type SequenceAllocator interface {
	Allocate(ctx context.Context, organizationID string) (int64, error)
}

type postgresSequence struct {
	db persistence.DB
}

// NewPostgresSequence allocates numbers with a single-row upsert per organization.
func NewPostgresSequence(db persistence.DB) SequenceAllocator {
	return &postgresSequence{db: db}
}

func (s *postgresSequence) Allocate(ctx context.Context, organizationID string) (int64, error) {
	const query = `
        INSERT INTO ticket_sequences (organization_id, last_value) VALUES ($1, 1)
        ON CONFLICT (organization_id) DO UPDATE SET last_value = ticket_sequences.last_value + 1
        RETURNING last_value`
	var next int64
	if err := persistence.QuerierFromCtx(ctx, s.db).QueryRow(ctx, query, organizationID).Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate ticket number: %w", err)
	}
	return next, nil
}

type redisSequence struct {
	client redis.Cmdable
}

// NewRedisSequence allocates numbers with INCR on ticket_seq:<org>.
func NewRedisSequence(client redis.Cmdable) SequenceAllocator {
	return &redisSequence{client: client}
}

func (s *redisSequence) Allocate(ctx context.Context, organizationID string) (int64, error) {
	next, err := s.client.Incr(ctx, "ticket_seq:"+organizationID).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate ticket number: %w", err)
	}
	return next, nil
}

// RetryingAllocator retries transient allocation failures with exponential backoff.
type RetryingAllocator struct {
	next        SequenceAllocator
	maxAttempts uint64
	initial     time.Duration
	logger      *zap.Logger
	onRetry     func()
}

// NewRetryingAllocator wraps next. maxAttempts below one is treated as one.
func NewRetryingAllocator(next SequenceAllocator, maxAttempts int, logger *zap.Logger, onRetry func()) *RetryingAllocator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingAllocator{
		next:        next,
		maxAttempts: uint64(maxAttempts),
		initial:     20 * time.Millisecond,
		logger:      logger,
		onRetry:     onRetry,
	}
}

// Allocate implements SequenceAllocator.
func (a *RetryingAllocator) Allocate(ctx context.Context, organizationID string) (int64, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.initial
	policy.MaxElapsedTime = 0

	var number int64
	op := func() error {
		n, err := a.next.Allocate(ctx, organizationID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return backoff.Permanent(err)
			}
			return err
		}
		number = n
		return nil
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("ticket number allocation failed, retrying",
			zap.String("organization_id", organizationID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if a.onRetry != nil {
			a.onRetry()
		}
	}
	b := backoff.WithContext(backoff.WithMaxRetries(policy, a.maxAttempts-1), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return 0, err
	}
	return number, nil
}
