package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/config"
	"github.com/deskflow/helpdesk-engine/internal/crm"
	"github.com/deskflow/helpdesk-engine/internal/escalation"
	"github.com/deskflow/helpdesk-engine/internal/events"
	"github.com/deskflow/helpdesk-engine/internal/mail"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	"github.com/deskflow/helpdesk-engine/internal/persistence"
	"github.com/deskflow/helpdesk-engine/internal/repository"
	"github.com/deskflow/helpdesk-engine/internal/repository/memory"
	"github.com/deskflow/helpdesk-engine/internal/service"
	"github.com/deskflow/helpdesk-engine/internal/sla"
)

// engine is the fully wired set of services shared by the commands.
type engine struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *observability.Metrics
	postgres *persistence.Postgres
	redis    *persistence.Redis

	provider      mail.Provider
	tickets       *service.TicketService
	assignments   *service.AssignmentService
	composer      *service.Composer
	correlator    *service.Correlator
	sla           *service.SLAService
	notifications *service.NotificationService
}

// stores groups the repositories of one backend.
type stores struct {
	tickets  repository.TicketRepository
	messages repository.TicketMessageRepository
	events   repository.TicketEventRepository
	markers  repository.MarkerRepository
	sequence repository.SequenceAllocator
	policies repository.SLAPolicyRepository
	tx       service.TxRunner
	contacts crm.Directory
}

func buildEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	e := &engine{cfg: cfg, logger: logger, metrics: observability.NewMetrics()}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	e.postgres = pg
	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			e.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	e.redis = persistence.NewRedis(cfg.Redis, logger)

	st := e.backend()

	fallback := sla.DefaultPolicies(cfg.SLA)
	if cfg.SLA.PolicyFile != "" {
		fallback, err = sla.LoadPolicyFile(cfg.SLA.PolicyFile)
		if err != nil {
			e.Close()
			return nil, err
		}
	}
	policies := sla.NewProvider(st.policies, fallback)
	table, err := policies.Reload(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}
	logger.Info("sla policies loaded", zap.Int64("version", table.Version()))

	domains := crm.NewPolicyStore(cfg.Ticketing.BlockedDomains)
	if cfg.Ticketing.DomainPolicyFile != "" {
		if _, err := domains.LoadFile(cfg.Ticketing.DomainPolicyFile); err != nil {
			e.Close()
			return nil, err
		}
	}

	dispatcher := events.NewInMemoryDispatcher()
	e.tickets = service.NewTicketService(service.TicketDependencies{
		TicketRepo:     st.tickets,
		MessageRepo:    st.messages,
		EventRepo:      st.events,
		Sequence:       st.sequence,
		Tx:             st.tx,
		Policies:       policies,
		Dispatcher:     dispatcher,
		Logger:         logger,
		Metrics:        e.metrics,
		OrganizationID: cfg.Ticketing.OrganizationID,
		UpdateAttempts: cfg.Ticketing.UpdateAttempts,
		ReopenOnReply:  cfg.Ticketing.ReopenOnReply,
	})
	e.assignments = service.NewAssignmentService(e.tickets)
	e.sla = service.NewSLAService(e.tickets, cfg.SLA.SweepBatch)

	if cfg.Mail.ProviderURL != "" {
		e.provider = mail.NewHTTPProvider(cfg.Mail)
	} else {
		logger.Warn("MAIL_PROVIDER_URL not provided; replies are stored but not sent")
	}
	e.composer = service.NewComposer(e.tickets, e.provider, cfg.Mail, logger, e.metrics)
	e.correlator = service.NewCorrelator(service.CorrelatorDependencies{
		Tickets:  e.tickets,
		Messages: st.messages,
		Markers:  st.markers,
		Resolver: crm.NewResolver(st.contacts, domains),
		Composer: e.composer,
		Mailbox:  cfg.Mail.Mailbox,
		Lease:    cfg.Mail.MarkerLease,
		Logger:   logger,
		Metrics:  e.metrics,
	})

	sink, err := escalationSink(cfg.Escalate)
	if err != nil {
		e.Close()
		return nil, err
	}
	var publisher service.Publisher
	if e.redis.Enabled() {
		publisher = e.redis.Client
	}
	e.notifications = service.NewNotificationService(dispatcher, logger, publisher, cfg.Redis.EventsChannel, sink)
	return e, nil
}

// backend selects Postgres when configured and the in-memory store
// otherwise. Redis optionally takes over numbering and dedup markers.
func (e *engine) backend() stores {
	var st stores
	if e.postgres.Enabled() {
		pool := e.postgres.PoolHandle()
		st = stores{
			tickets:  repository.NewTicketRepository(pool),
			messages: repository.NewTicketMessageRepository(pool),
			events:   repository.NewTicketEventRepository(pool),
			markers:  repository.NewMarkerRepository(pool),
			sequence: repository.NewPostgresSequence(pool),
			policies: repository.NewSLAPolicyRepository(pool),
			tx:       persistence.NewTxManager(pool),
			contacts: crm.NewPostgresDirectory(pool),
		}
	} else {
		mem := memory.NewStore()
		st = stores{
			tickets:  mem.Tickets(),
			messages: mem.Messages(),
			events:   mem.Events(),
			markers:  mem.Markers(),
			sequence: mem.Sequence(),
			policies: mem.Policies(),
			tx:       mem,
			contacts: crm.NewStaticDirectory(),
		}
	}

	if e.redis.Enabled() {
		if e.cfg.Redis.UseSequence {
			st.sequence = repository.NewRedisSequence(e.redis.Client)
		}
		if e.cfg.Redis.UseMarkers {
			st.markers = repository.NewRedisMarkerRepository(e.redis.Client)
		}
	}
	st.sequence = repository.NewRetryingAllocator(st.sequence, e.cfg.Ticketing.AllocatorAttempts, e.logger, func() {
		e.metrics.Inc(observability.CounterAllocatorRetries)
	})
	return st
}

func escalationSink(cfg config.EscalationConfig) (escalation.Sink, error) {
	var sinks escalation.Fanout
	if cfg.SlackToken != "" {
		sinks = append(sinks, escalation.NewSlackSink(cfg.SlackToken, cfg.SlackChannel))
	}
	if cfg.DiscordToken != "" {
		discord, err := escalation.NewDiscordSink(cfg.DiscordToken, cfg.DiscordChannel)
		if err != nil {
			return nil, fmt.Errorf("discord escalation: %w", err)
		}
		sinks = append(sinks, discord)
	}
	if len(sinks) == 0 {
		return nil, nil
	}
	return sinks, nil
}

// Close releases backend connections.
func (e *engine) Close() {
	e.redis.Close()
	e.postgres.Close()
}
