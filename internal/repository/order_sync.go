package repository

import (
	"context"
	"lgl-sync/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderSyncRepository interface {
	EnsureRecord(ctx context.Context, orderID int64) error
	FindByOrderID(ctx context.Context, orderID int64) (*model.OrderSyncRecord, error)
	MarkQueued(ctx context.Context, orderID int64, queuedAt time.Time) error

	// TryLock acquires the durable processing lock iff it is free or older
	// than staleBefore. Returns false when another attempt holds a fresh
	// lock.
	TryLock(ctx context.Context, orderID int64, now time.Time, staleBefore time.Time) (bool, error)
	Unlock(ctx context.Context, orderID int64) error

	MarkProcessing(ctx context.Context, orderID int64) error
	MarkSynced(ctx context.Context, orderID int64, processedAt time.Time) error
	RecordFailure(ctx context.Context, orderID int64, retryCount int, failedAt time.Time, reason string) error
	MarkPermanentlyFailed(ctx context.Context, orderID int64, failedAt time.Time, reason string) error
	ClearPermanentFailure(ctx context.Context, orderID int64) error

	SetConstituent(ctx context.Context, orderID int64, constituentID, matchMethod string) error
	SetPayment(ctx context.Context, orderID int64, paymentID string) error

	// FindStuck returns orders queued before the given cutoff that never
	// reached a terminal state and are not currently locked.
	FindStuck(ctx context.Context, queuedBefore time.Time, lockStaleBefore time.Time) ([]*model.OrderSyncRecord, error)
}

type orderSyncRepoImpl struct {
	db *gorm.DB
}

func NewOrderSyncRepository(db *gorm.DB) OrderSyncRepository {
	return &orderSyncRepoImpl{
		db: db,
	}
}

func (r *orderSyncRepoImpl) EnsureRecord(ctx context.Context, orderID int64) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(&model.OrderSyncRecord{
		OrderID: orderID,
		Status:  model.SyncStatusUnsynced,
	}).Error
}

func (r *orderSyncRepoImpl) FindByOrderID(ctx context.Context, orderID int64) (*model.OrderSyncRecord, error) {
	var rec model.OrderSyncRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&rec).Error

	if err != nil {
		return nil, err
	}

	return &rec, nil
}

func (r *orderSyncRepoImpl) MarkQueued(ctx context.Context, orderID int64, queuedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Where("status NOT IN ?", []string{model.SyncStatusSynced, model.SyncStatusPermanentlyFailed}).
		Updates(map[string]interface{}{
			"status":    model.SyncStatusQueued,
			"queued_at": queuedAt,
		}).Error
}

func (r *orderSyncRepoImpl) TryLock(ctx context.Context, orderID int64, now time.Time, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Where("locked_at IS NULL OR locked_at < ?", staleBefore).
		Update("locked_at", now)

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (r *orderSyncRepoImpl) Unlock(ctx context.Context, orderID int64) error {
	return r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Update("locked_at", nil).Error
}

func (r *orderSyncRepoImpl) MarkProcessing(ctx context.Context, orderID int64) error {
	return r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Update("status", model.SyncStatusProcessing).Error
}

func (r *orderSyncRepoImpl) MarkSynced(ctx context.Context, orderID int64, processedAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":         model.SyncStatusSynced,
			"processed_at":   processedAt,
			"retry_count":    0,
			"failed_at":      nil,
			"failure_reason": "",
			"locked_at":      nil,
		}).Error
}

func (r *orderSyncRepoImpl) RecordFailure(ctx context.Context, orderID int64, retryCount int, failedAt time.Time, reason string) error {
	return r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":         model.SyncStatusFailed,
			"retry_count":    retryCount,
			"failed_at":      failedAt,
			"failure_reason": reason,
		}).Error
}

func (r *orderSyncRepoImpl) MarkPermanentlyFailed(ctx context.Context, orderID int64, failedAt time.Time, reason string) error {
	return r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":             model.SyncStatusPermanentlyFailed,
			"permanently_failed": true,
			"failed_at":          failedAt,
			"failure_reason":     reason,
			"locked_at":          nil,
		}).Error
}

func (r *orderSyncRepoImpl) ClearPermanentFailure(ctx context.Context, orderID int64) error {
	return r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"status":             model.SyncStatusUnsynced,
			"permanently_failed": false,
			"failure_reason":     "",
			"retry_count":        0,
			"failed_at":          nil,
			"locked_at":          nil,
		}).Error
}

func (r *orderSyncRepoImpl) SetConstituent(ctx context.Context, orderID int64, constituentID, matchMethod string) error {
	return r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"constituent_id": constituentID,
			"match_method":   matchMethod,
		}).Error
}

func (r *orderSyncRepoImpl) SetPayment(ctx context.Context, orderID int64, paymentID string) error {
	return r.db.WithContext(ctx).Model(&model.OrderSyncRecord{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"payment_id":       paymentID,
			"payment_recorded": true,
		}).Error
}

func (r *orderSyncRepoImpl) FindStuck(ctx context.Context, queuedBefore time.Time, lockStaleBefore time.Time) ([]*model.OrderSyncRecord, error) {
	var recs []*model.OrderSyncRecord
	// processing is included: a crash after MarkProcessing leaves the order
	// in that state with a stale lock, and nothing else re-drives it.
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{model.SyncStatusQueued, model.SyncStatusProcessing, model.SyncStatusFailed}).
		Where("queued_at IS NOT NULL AND queued_at < ?", queuedBefore).
		Where("locked_at IS NULL OR locked_at < ?", lockStaleBefore).
		Find(&recs).Error

	if err != nil {
		return nil, err
	}

	return recs, nil
}
