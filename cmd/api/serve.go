package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/deskflow/helpdesk-engine/internal/api/http"
	"github.com/deskflow/helpdesk-engine/internal/api/http/handlers"
	"github.com/deskflow/helpdesk-engine/internal/auth"
	"github.com/deskflow/helpdesk-engine/internal/config"
	"github.com/deskflow/helpdesk-engine/internal/observability"
	"github.com/deskflow/helpdesk-engine/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the SLA sweep and the mail poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx)
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	e, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	worker.StartNotificationWorker(e.notifications, logger)
	app := newHTTPApp(e)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	g.Go(func() error {
		return worker.NewSLAWorker(e.sla, cfg.SLA.SweepSchedule, logger).Run(gctx)
	})
	if cfg.Mail.PollEnabled && e.provider != nil {
		poller := worker.NewMailPoller(e.provider, e.correlator, cfg.Mail.PollInterval, logger, e.metrics)
		g.Go(func() error {
			return poller.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newHTTPApp(e *engine) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               e.cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, e.logger, e.metrics, e.cfg.App.RequestTimeout())

	deps := map[string]handlers.Pinger{}
	if e.postgres.Enabled() {
		deps["postgres"] = e.postgres
	}
	if e.redis.Enabled() {
		deps["redis"] = e.redis
	}

	tokens := auth.NewTokenManager(e.cfg.Auth.JWTSecret, e.cfg.Auth.TokenTTL)
	routes := httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(e.cfg.App.Name, e.cfg.App.Version, deps, e.metrics),
		Tickets:        handlers.NewTicketsHandler(e.tickets, e.assignments, e.composer),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		WebhookSecret:  e.cfg.Auth.WebhookSecret,
	}
	if e.cfg.Auth.WebhookSecret != "" {
		routes.Inbound = handlers.NewInboundHandler(e.correlator)
	} else {
		e.logger.Warn("INBOUND_WEBHOOK_SECRET not provided; inbound webhook disabled")
	}
	httptransport.RegisterRoutes(app, routes)
	return app
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}
