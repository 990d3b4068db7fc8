package repository

import (
	"context"
	"errors"
	"lgl-sync/internal/model"

	"gorm.io/gorm"
)

type TierRepository interface {
	FindByFundID(ctx context.Context, fundID string) (*model.TierConfig, error)
	FindByTierName(ctx context.Context, tierName string) (*model.TierConfig, error)
	Upsert(ctx context.Context, tier *model.TierConfig) error
}

type tierRepoImpl struct {
	db *gorm.DB
}

func NewTierRepository(db *gorm.DB) TierRepository {
	return &tierRepoImpl{
		db: db,
	}
}

func (r *tierRepoImpl) FindByFundID(ctx context.Context, fundID string) (*model.TierConfig, error) {
	var tier model.TierConfig
	err := r.db.WithContext(ctx).
		Where("fund_id = ?", fundID).
		First(&tier).Error

	if err != nil {
		return nil, err
	}

	return &tier, nil
}

func (r *tierRepoImpl) FindByTierName(ctx context.Context, tierName string) (*model.TierConfig, error) {
	var tier model.TierConfig
	err := r.db.WithContext(ctx).
		Where("tier_name = ?", tierName).
		First(&tier).Error

	if err != nil {
		return nil, err
	}

	return &tier, nil
}

func (r *tierRepoImpl) Upsert(ctx context.Context, tier *model.TierConfig) error {
	existing, err := r.FindByFundID(ctx, tier.FundID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return r.db.WithContext(ctx).Create(tier).Error
		}
		return err
	}

	tier.ID = existing.ID
	return r.db.WithContext(ctx).Save(tier).Error
}
