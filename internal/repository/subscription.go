package repository

import (
	"context"
	"lgl-sync/internal/model"

	"gorm.io/gorm"
)

type SubscriptionRepository interface {
	// HasActive reports whether the user owns an ACTIVE recurring-billing
	// agreement. An active agreement owns the renewal date and suppresses
	// sweep deactivation.
	HasActive(ctx context.Context, userID int64) (bool, error)
	Create(ctx context.Context, sub *model.Subscription) error
	Cancel(ctx context.Context, subscriptionID string) error
}

type subscriptionRepoImpl struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepoImpl{
		db: db,
	}
}

func (r *subscriptionRepoImpl) HasActive(ctx context.Context, userID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("user_id = ?", userID).
		Where("status = ?", "ACTIVE").
		Count(&count).Error

	return count > 0, err
}

func (r *subscriptionRepoImpl) Create(ctx context.Context, sub *model.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *subscriptionRepoImpl) Cancel(ctx context.Context, subscriptionID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("subscription_id = ?", subscriptionID).
		Update("status", "CANCELLED").
		Error
}
