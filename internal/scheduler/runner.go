package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"lgl-sync/internal/repository"

	"github.com/sirupsen/logrus"
)

// Handler executes one claimed task. A returned error is logged; tasks do
// not auto-retry here — work that wants retries reschedules itself.
type Handler func(ctx context.Context, args map[string]interface{}) error

// Runner polls the task table and invokes registered handlers for due
// tasks.
type Runner struct {
	tasks    repository.ScheduledTaskRepository
	clock    Clock
	logger   *logrus.Logger
	interval time.Duration
	handlers map[string]Handler
}

func NewRunner(tasks repository.ScheduledTaskRepository, clock Clock, logger *logrus.Logger, interval time.Duration) *Runner {
	return &Runner{
		tasks:    tasks,
		clock:    clock,
		logger:   logger,
		interval: interval,
		handlers: make(map[string]Handler),
	}
}

// Register binds a hook name to its handler. Must be called before Start.
func (r *Runner) Register(hook string, h Handler) {
	r.handlers[hook] = h
}

// Start blocks until ctx is cancelled, draining due tasks every interval.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick claims and runs every currently due task.
func (r *Runner) Tick(ctx context.Context) {
	due, err := r.tasks.ClaimDue(ctx, r.clock.Now(), 100)
	if err != nil {
		r.logger.WithError(err).Error("claim due tasks")
		return
	}

	for _, task := range due {
		handler, ok := r.handlers[task.Hook]
		if !ok {
			r.logger.WithField("hook", task.Hook).Warn("no handler registered for task")
			continue
		}

		var args map[string]interface{}
		if err := json.Unmarshal(task.Args, &args); err != nil {
			r.logger.WithError(err).WithField("task_id", task.ID).Error("decode task args")
			continue
		}

		if err := r.runOne(ctx, handler, args); err != nil {
			r.logger.WithError(err).WithFields(logrus.Fields{
				"hook":    task.Hook,
				"task_id": task.ID,
			}).Error("task handler failed")
		}
	}
}

func (r *Runner) runOne(ctx context.Context, handler Handler, args map[string]interface{}) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", rec).Error("task handler panicked")
		}
	}()

	return handler(ctx, args)
}
