package repository

import (
	"context"
	"lgl-sync/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	CreateLines(ctx context.Context, tx *gorm.DB, lines []*model.OrderLine) error
	CreateMeta(ctx context.Context, tx *gorm.DB, meta []*model.OrderMeta) error
	FindByOrderID(ctx context.Context, orderID int64) (*model.Order, error)
	GetLines(ctx context.Context, orderID int64) ([]*model.OrderLine, error)
	GetMeta(ctx context.Context, orderID int64) ([]*model.OrderMeta, error)
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_id"}},
		DoNothing: true,
	}).Create(order).Error
}

func (r *orderRepoImpl) CreateLines(ctx context.Context, tx *gorm.DB, lines []*model.OrderLine) error {
	if len(lines) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&lines).Error
}

func (r *orderRepoImpl) CreateMeta(ctx context.Context, tx *gorm.DB, meta []*model.OrderMeta) error {
	if len(meta) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&meta).Error
}

func (r *orderRepoImpl) FindByOrderID(ctx context.Context, orderID int64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&order).Error

	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) GetLines(ctx context.Context, orderID int64) ([]*model.OrderLine, error) {
	var lines []*model.OrderLine
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Find(&lines).Error

	if err != nil {
		return nil, err
	}

	return lines, nil
}

func (r *orderRepoImpl) GetMeta(ctx context.Context, orderID int64) ([]*model.OrderMeta, error) {
	var meta []*model.OrderMeta
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Find(&meta).Error

	if err != nil {
		return nil, err
	}

	return meta, nil
}
