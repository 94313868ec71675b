package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/deskflow/helpdesk-engine/internal/service"
)

// Sweeper runs one SLA breach pass.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (service.SweepResult, error)
}

// SLAWorker runs the breach sweep on a cron schedule. Overlapping runs are
// skipped rather than queued.
type SLAWorker struct {
	sweeper  Sweeper
	schedule string
	logger   *zap.Logger
	now      func() time.Time
}

// NewSLAWorker creates the worker. schedule accepts standard cron
// expressions and descriptors such as "@every 1m".
func NewSLAWorker(sweeper Sweeper, schedule string, logger *zap.Logger) *SLAWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SLAWorker{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger.Named("sla_worker"),
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, then waits for a running sweep to end.
func (w *SLAWorker) Run(ctx context.Context) error {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.logger})))
	if _, err := scheduler.AddFunc(w.schedule, func() { _, _ = w.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sla sweep %q: %w", w.schedule, err)
	}
	scheduler.Start()
	w.logger.Info("sla sweep scheduled", zap.String("schedule", w.schedule))

	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

// RunOnce performs a single sweep.
func (w *SLAWorker) RunOnce(ctx context.Context) (service.SweepResult, error) {
	result, err := w.sweeper.Sweep(ctx, w.now())
	if err != nil && ctx.Err() == nil {
		w.logger.Error("sla sweep failed", zap.Error(err))
	}
	return result, err
}

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
