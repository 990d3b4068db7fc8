package repository

import (
	"lgl-sync/internal/model"
	"time"

	"gorm.io/gorm"
)

type ProcessedTriggerRepository interface {
	Exists(orderID int64) (bool, error)
	MarkProcessed(orderID int64) error
}

type processedTriggerRepoImpl struct {
	db *gorm.DB
}

func NewProcessedTriggerRepository(db *gorm.DB) ProcessedTriggerRepository {
	return &processedTriggerRepoImpl{db: db}
}

func (r *processedTriggerRepoImpl) Exists(orderID int64) (bool, error) {
	var count int64
	err := r.db.Model(&model.ProcessedTrigger{}).
		Where("order_id = ?", orderID).
		Count(&count).Error

	return count > 0, err
}

func (r *processedTriggerRepoImpl) MarkProcessed(orderID int64) error {
	return r.db.Create(&model.ProcessedTrigger{
		OrderID:     orderID,
		ProcessedAt: time.Now(),
	}).Error
}
