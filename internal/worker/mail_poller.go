package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/domain"
	"github.com/deskflow/helpdesk-engine/internal/mail"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	"github.com/deskflow/helpdesk-engine/internal/service"
	apperrors "github.com/deskflow/helpdesk-engine/pkg/util/errorutil"
)

// Ingester consumes one provider payload.
type Ingester interface {
	IngestPayload(ctx context.Context, payload mail.Payload) (*service.IngestResult, error)
}

// MailPoller pulls new messages from the provider on a fixed interval.
//
// The cursor only advances once every message of a batch was handled, so a
// failed fetch or a transient ingest error is retried on the next tick.
// Messages already processed are no-ops the second time around. A message
// the engine can never accept is logged, counted and skipped.
type MailPoller struct {
	provider mail.Provider
	ingester Ingester
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
	cursor   string
}

// NewMailPoller creates the poller. metrics may be nil.
func NewMailPoller(provider mail.Provider, ingester Ingester, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *MailPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailPoller{
		provider: provider,
		ingester: ingester,
		interval: interval,
		logger:   logger.Named("mail_poller"),
		metrics:  metrics,
	}
}

// Run polls until ctx is cancelled.
func (p *MailPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("mail poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce handles one batch and returns how many messages were ingested.
// Rejected messages do not count as ingested and do not hold the cursor.
func (p *MailPoller) PollOnce(ctx context.Context) (int, error) {
	ids, next, err := p.provider.List(ctx, p.cursor)
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, id := range ids {
		payload, err := p.provider.Fetch(ctx, id)
		if err != nil {
			return handled, err
		}
		if payload.ID == "" {
			payload.ID = id
		}
		if _, err := p.ingester.IngestPayload(ctx, *payload); err != nil {
			if permanent(err) {
				p.metrics.Inc(observability.CounterInboundRejected)
				p.logger.Warn("skipping message that cannot be ingested", zap.String("id", id), zap.Error(err))
				continue
			}
			if errors.Is(err, domain.ErrMarkerInProgress) {
				p.logger.Debug("message in progress elsewhere", zap.String("id", id))
			}
			return handled, err
		}
		handled++
	}
	p.cursor = next
	return handled, nil
}

func permanent(err error) bool {
	return errors.Is(err, mail.ErrNoExternalID) || apperrors.IsValidation(err)
}

// Cursor returns the provider cursor of the last completed batch.
func (p *MailPoller) Cursor() string {
	return p.cursor
}
