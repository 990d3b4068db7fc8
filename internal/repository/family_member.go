package repository

import (
	"context"
	"lgl-sync/internal/model"
	"time"

	"gorm.io/gorm"
)

type FamilyMemberRepository interface {
	Create(ctx context.Context, fm *model.FamilyMember) error
	Save(ctx context.Context, fm *model.FamilyMember) error
	FindByChild(ctx context.Context, childUserID int64) (*model.FamilyMember, error)
	ListByOwner(ctx context.Context, ownerUserID int64) ([]*model.FamilyMember, error)

	// TryLock acquires the per-child processing lock iff it is free or
	// older than staleBefore. Returns false when another attempt holds a
	// fresh lock, or when no record exists for the child.
	TryLock(ctx context.Context, childUserID int64, now time.Time, staleBefore time.Time) (bool, error)
	Unlock(ctx context.Context, childUserID int64) error

	// CountByOwner is the ground truth for used family slots.
	CountByOwner(ctx context.Context, ownerUserID int64) (int, error)
	Delete(ctx context.Context, childUserID int64) error
}

type familyMemberRepoImpl struct {
	db *gorm.DB
}

func NewFamilyMemberRepository(db *gorm.DB) FamilyMemberRepository {
	return &familyMemberRepoImpl{
		db: db,
	}
}

func (r *familyMemberRepoImpl) Create(ctx context.Context, fm *model.FamilyMember) error {
	return r.db.WithContext(ctx).Create(fm).Error
}

func (r *familyMemberRepoImpl) Save(ctx context.Context, fm *model.FamilyMember) error {
	return r.db.WithContext(ctx).Save(fm).Error
}

func (r *familyMemberRepoImpl) FindByChild(ctx context.Context, childUserID int64) (*model.FamilyMember, error) {
	var fm model.FamilyMember
	err := r.db.WithContext(ctx).
		Where("child_user_id = ?", childUserID).
		First(&fm).Error

	if err != nil {
		return nil, err
	}

	return &fm, nil
}

func (r *familyMemberRepoImpl) ListByOwner(ctx context.Context, ownerUserID int64) ([]*model.FamilyMember, error) {
	var members []*model.FamilyMember
	err := r.db.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Find(&members).Error

	if err != nil {
		return nil, err
	}

	return members, nil
}

func (r *familyMemberRepoImpl) TryLock(ctx context.Context, childUserID int64, now time.Time, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.FamilyMember{}).
		Where("child_user_id = ?", childUserID).
		Where("locked_at IS NULL OR locked_at < ?", staleBefore).
		Update("locked_at", now)

	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (r *familyMemberRepoImpl) Unlock(ctx context.Context, childUserID int64) error {
	return r.db.WithContext(ctx).Model(&model.FamilyMember{}).
		Where("child_user_id = ?", childUserID).
		Update("locked_at", nil).Error
}

func (r *familyMemberRepoImpl) Delete(ctx context.Context, childUserID int64) error {
	return r.db.WithContext(ctx).
		Where("child_user_id = ?", childUserID).
		Delete(&model.FamilyMember{}).Error
}

func (r *familyMemberRepoImpl) CountByOwner(ctx context.Context, ownerUserID int64) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.FamilyMember{}).
		Where("owner_user_id = ?", ownerUserID).
		Count(&count).Error

	return int(count), err
}
