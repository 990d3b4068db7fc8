package repository

import (
	"context"
	"errors"
	"lgl-sync/internal/model"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ScheduledTaskRepository interface {
	// Schedule inserts a pending task unless an identical (hook, args)
	// pending task already exists. Reports whether a row was inserted.
	Schedule(ctx context.Context, hook string, runAt time.Time, args datatypes.JSON) (bool, error)
	NextScheduled(ctx context.Context, hook string, args datatypes.JSON) (*time.Time, error)
	Cancel(ctx context.Context, hook string, args datatypes.JSON) error

	// ClaimDue atomically moves due pending tasks to done and returns them
	// for execution. Failed work reschedules itself with a fresh task, so a
	// claimed task is never re-run.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledTask, error)
}

type scheduledTaskRepoImpl struct {
	db *gorm.DB
}

func NewScheduledTaskRepository(db *gorm.DB) ScheduledTaskRepository {
	return &scheduledTaskRepoImpl{
		db: db,
	}
}

func (r *scheduledTaskRepoImpl) Schedule(ctx context.Context, hook string, runAt time.Time, args datatypes.JSON) (bool, error) {
	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&model.ScheduledTask{}).
			Where("hook = ?", hook).
			Where("args = ?", string(args)).
			Where("status = ?", model.TaskStatusPending).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		if err := tx.Create(&model.ScheduledTask{
			ID:     uuid.NewString(),
			Hook:   hook,
			Args:   args,
			RunAt:  runAt,
			Status: model.TaskStatusPending,
		}).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})

	return inserted, err
}

func (r *scheduledTaskRepoImpl) NextScheduled(ctx context.Context, hook string, args datatypes.JSON) (*time.Time, error) {
	var task model.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("hook = ?", hook).
		Where("args = ?", string(args)).
		Where("status = ?", model.TaskStatusPending).
		Order("run_at ASC").
		First(&task).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &task.RunAt, nil
}

func (r *scheduledTaskRepoImpl) Cancel(ctx context.Context, hook string, args datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&model.ScheduledTask{}).
		Where("hook = ?", hook).
		Where("args = ?", string(args)).
		Where("status = ?", model.TaskStatusPending).
		Update("status", model.TaskStatusCancelled).Error
}

func (r *scheduledTaskRepoImpl) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.ScheduledTask, error) {
	var due []*model.ScheduledTask
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("status = ?", model.TaskStatusPending).
			Where("run_at <= ?", now).
			Order("run_at ASC").
			Limit(limit).
			Find(&due).Error; err != nil {
			return err
		}

		for _, task := range due {
			res := tx.Model(&model.ScheduledTask{}).
				Where("id = ?", task.ID).
				Where("status = ?", model.TaskStatusPending).
				Update("status", model.TaskStatusDone)
			if res.Error != nil {
				return res.Error
			}
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return due, nil
}
