package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lgl-sync/internal/model"
	"lgl-sync/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTaskDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.ScheduledTask{}))
	return db
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func taskCount(t *testing.T, db *gorm.DB, status string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.ScheduledTask{}).
		Where("status = ?", status).
		Count(&n).Error)
	return n
}

func TestScheduleDeduplicatesPending(t *testing.T) {
	db := newTaskDB(t)
	ctx := context.Background()
	s := NewScheduler(repository.NewScheduledTaskRepository(db))
	runAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Schedule(ctx, "sync", runAt, map[string]interface{}{"order_id": 1}))
	require.NoError(t, s.Schedule(ctx, "sync", runAt.Add(time.Hour), map[string]interface{}{"order_id": 1}))

	assert.Equal(t, int64(1), taskCount(t, db, model.TaskStatusPending))

	// Different args or hook are separate tasks.
	require.NoError(t, s.Schedule(ctx, "sync", runAt, map[string]interface{}{"order_id": 2}))
	require.NoError(t, s.Schedule(ctx, "other", runAt, map[string]interface{}{"order_id": 1}))
	assert.Equal(t, int64(3), taskCount(t, db, model.TaskStatusPending))
}

func TestNextScheduled(t *testing.T) {
	db := newTaskDB(t)
	ctx := context.Background()
	s := NewScheduler(repository.NewScheduledTaskRepository(db))
	runAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	got, err := s.NextScheduled(ctx, "sync", map[string]interface{}{"order_id": 1})
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Schedule(ctx, "sync", runAt, map[string]interface{}{"order_id": 1}))

	got, err = s.NextScheduled(ctx, "sync", map[string]interface{}{"order_id": 1})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, runAt.Unix(), got.Unix())
}

func TestCancelDropsPendingTask(t *testing.T) {
	db := newTaskDB(t)
	ctx := context.Background()
	s := NewScheduler(repository.NewScheduledTaskRepository(db))
	runAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Schedule(ctx, "sync", runAt, map[string]interface{}{"order_id": 1}))
	require.NoError(t, s.Cancel(ctx, "sync", map[string]interface{}{"order_id": 1}))

	assert.Equal(t, int64(0), taskCount(t, db, model.TaskStatusPending))
	assert.Equal(t, int64(1), taskCount(t, db, model.TaskStatusCancelled))

	// Cancelled tasks do not block a fresh schedule.
	require.NoError(t, s.Schedule(ctx, "sync", runAt, map[string]interface{}{"order_id": 1}))
	assert.Equal(t, int64(1), taskCount(t, db, model.TaskStatusPending))
}

func TestRunnerTickRunsDueTasks(t *testing.T) {
	db := newTaskDB(t)
	ctx := context.Background()
	tasks := repository.NewScheduledTaskRepository(db)
	s := NewScheduler(tasks)
	clock := &manualClock{now: time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)}

	var mu sync.Mutex
	var handled []int64
	runner := NewRunner(tasks, clock, quietLogger(), time.Second)
	runner.Register("sync", func(ctx context.Context, args map[string]interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, int64(args["order_id"].(float64)))
		return nil
	})

	require.NoError(t, s.Schedule(ctx, "sync", clock.Now(), map[string]interface{}{"order_id": 1}))
	require.NoError(t, s.Schedule(ctx, "sync", clock.Now().Add(10*time.Minute), map[string]interface{}{"order_id": 2}))

	runner.Tick(ctx)
	assert.Equal(t, []int64{1}, handled)
	assert.Equal(t, int64(1), taskCount(t, db, model.TaskStatusPending))
	assert.Equal(t, int64(1), taskCount(t, db, model.TaskStatusDone))

	// The future task becomes due once the clock catches up.
	clock.Advance(10 * time.Minute)
	runner.Tick(ctx)
	assert.Equal(t, []int64{1, 2}, handled)
	assert.Equal(t, int64(0), taskCount(t, db, model.TaskStatusPending))
}

func TestRunnerTickClaimsTaskOnce(t *testing.T) {
	db := newTaskDB(t)
	ctx := context.Background()
	tasks := repository.NewScheduledTaskRepository(db)
	s := NewScheduler(tasks)
	clock := &manualClock{now: time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)}

	calls := 0
	runner := NewRunner(tasks, clock, quietLogger(), time.Second)
	runner.Register("sync", func(ctx context.Context, args map[string]interface{}) error {
		calls++
		return errors.New("handler failed")
	})

	require.NoError(t, s.Schedule(ctx, "sync", clock.Now(), map[string]interface{}{"order_id": 1}))

	// A failing handler does not put the task back; retrying work
	// reschedules itself.
	runner.Tick(ctx)
	runner.Tick(ctx)
	assert.Equal(t, 1, calls)
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	db := newTaskDB(t)
	ctx := context.Background()
	tasks := repository.NewScheduledTaskRepository(db)
	s := NewScheduler(tasks)
	clock := &manualClock{now: time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)}

	runner := NewRunner(tasks, clock, quietLogger(), time.Second)
	runner.Register("boom", func(ctx context.Context, args map[string]interface{}) error {
		panic("handler exploded")
	})

	require.NoError(t, s.Schedule(ctx, "boom", clock.Now(), nil))

	assert.NotPanics(t, func() { runner.Tick(ctx) })
}
