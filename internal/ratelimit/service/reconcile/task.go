// Package reconcile periodically resynchronises the counter snapshot with
// the shared store, independent of request volume.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"glaze/internal/ratelimit/metrics"
)

// Reconciler is implemented by tokenbudget.Service.
type Reconciler interface {
	Reconcile(ctx context.Context) error
}

type Task struct {
	target   Reconciler
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Task)

func WithLogger(logger *slog.Logger) Option {
	return func(t *Task) {
		t.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Task) {
		t.metrics = m
	}
}

// New validates schedule and registers the job. Nothing runs until Start.
func New(target Reconciler, schedule string, opts ...Option) (*Task, error) {
	if target == nil {
		return nil, errors.New("reconcile target is required")
	}
	t := &Task{
		target:   target,
		schedule: schedule,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	t.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := t.cron.AddFunc(schedule, func() { t.Run(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	return t, nil
}

// Run performs one reconciliation. Errors are logged and swallowed.
func (t *Task) Run(ctx context.Context) {
	if err := t.target.Reconcile(ctx); err != nil {
		t.metrics.RecordReconcile("error")
		t.logger.WarnContext(ctx, "token counter reconciliation failed", "error", err)
		return
	}
	t.metrics.RecordReconcile("ok")
	t.logger.DebugContext(ctx, "token counter reconciled")
}

func (t *Task) Start() {
	t.logger.Info("reconciliation scheduled", "schedule", t.schedule)
	t.cron.Start()
}

// Stop halts scheduling and waits for a running job, or for ctx to end.
func (t *Task) Stop(ctx context.Context) error {
	done := t.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
