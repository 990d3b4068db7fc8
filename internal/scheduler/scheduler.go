package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lgl-sync/internal/repository"

	"gorm.io/datatypes"
)

// Scheduler is the deferred-task primitive: run a named hook with arguments
// at or after a given time. Scheduling the same (hook, args) pair twice
// while one is still pending is a no-op.
type Scheduler interface {
	Schedule(ctx context.Context, hook string, runAt time.Time, args map[string]interface{}) error
	NextScheduled(ctx context.Context, hook string, args map[string]interface{}) (*time.Time, error)
	Cancel(ctx context.Context, hook string, args map[string]interface{}) error
}

type dbScheduler struct {
	tasks repository.ScheduledTaskRepository
}

// NewScheduler returns a durable, repository-backed Scheduler.
func NewScheduler(tasks repository.ScheduledTaskRepository) Scheduler {
	return &dbScheduler{tasks: tasks}
}

func encodeArgs(args map[string]interface{}) (datatypes.JSON, error) {
	if args == nil {
		args = map[string]interface{}{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal task args: %w", err)
	}
	return datatypes.JSON(b), nil
}

func (s *dbScheduler) Schedule(ctx context.Context, hook string, runAt time.Time, args map[string]interface{}) error {
	encoded, err := encodeArgs(args)
	if err != nil {
		return err
	}

	if _, err := s.tasks.Schedule(ctx, hook, runAt, encoded); err != nil {
		return fmt.Errorf("schedule task %s: %w", hook, err)
	}

	return nil
}

func (s *dbScheduler) NextScheduled(ctx context.Context, hook string, args map[string]interface{}) (*time.Time, error) {
	encoded, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}

	return s.tasks.NextScheduled(ctx, hook, encoded)
}

func (s *dbScheduler) Cancel(ctx context.Context, hook string, args map[string]interface{}) error {
	encoded, err := encodeArgs(args)
	if err != nil {
		return err
	}

	return s.tasks.Cancel(ctx, hook, encoded)
}
