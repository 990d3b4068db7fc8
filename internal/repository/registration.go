package repository

import (
	"context"
	"lgl-sync/internal/model"

	"gorm.io/gorm"
)

type RegistrationRepository interface {
	Create(ctx context.Context, reg *model.Registration) error
	// ExistsForOrderProduct guards the immediate phase against creating
	// duplicate registrations when an order is re-processed.
	ExistsForOrderProduct(ctx context.Context, orderID, productID int64, attendeeEmail string) (bool, error)
	// PaymentRecorded reports whether a gift was already created for the
	// order/product pair, so retried syncs do not double-charge.
	PaymentRecorded(ctx context.Context, orderID, productID int64) (bool, error)
	SetPayment(ctx context.Context, orderID, productID int64, paymentID string) error
	ListByOrder(ctx context.Context, orderID int64) ([]*model.Registration, error)
}

type registrationRepoImpl struct {
	db *gorm.DB
}

func NewRegistrationRepository(db *gorm.DB) RegistrationRepository {
	return &registrationRepoImpl{
		db: db,
	}
}

func (r *registrationRepoImpl) Create(ctx context.Context, reg *model.Registration) error {
	return r.db.WithContext(ctx).Create(reg).Error
}

func (r *registrationRepoImpl) ExistsForOrderProduct(ctx context.Context, orderID, productID int64, attendeeEmail string) (bool, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&model.Registration{}).
		Where("order_id = ?", orderID).
		Where("product_id = ?", productID)
	if attendeeEmail != "" {
		q = q.Where("attendee_email = ?", attendeeEmail)
	}
	err := q.Count(&count).Error

	return count > 0, err
}

func (r *registrationRepoImpl) PaymentRecorded(ctx context.Context, orderID, productID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Registration{}).
		Where("order_id = ?", orderID).
		Where("product_id = ?", productID).
		Where("payment_id <> ''").
		Count(&count).Error

	return count > 0, err
}

func (r *registrationRepoImpl) SetPayment(ctx context.Context, orderID, productID int64, paymentID string) error {
	return r.db.WithContext(ctx).Model(&model.Registration{}).
		Where("order_id = ?", orderID).
		Where("product_id = ?", productID).
		Update("payment_id", paymentID).Error
}

func (r *registrationRepoImpl) ListByOrder(ctx context.Context, orderID int64) ([]*model.Registration, error) {
	var regs []*model.Registration
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Find(&regs).Error

	if err != nil {
		return nil, err
	}

	return regs, nil
}
