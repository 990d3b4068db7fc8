package repository

import (
	"context"
	"errors"
	"lgl-sync/internal/model"

	"gorm.io/gorm"
)

type MembershipRepository interface {
	Get(ctx context.Context, userID int64) (*model.Membership, error)
	// GetOrCreate returns the membership for the user, creating an empty
	// record on first contact.
	GetOrCreate(ctx context.Context, userID int64) (*model.Membership, error)
	Save(ctx context.Context, m *model.Membership) error
	UpdateFields(ctx context.Context, userID int64, fields map[string]interface{}) error

	// ListRenewalCandidates returns every member carrying the member role
	// with a non-blank renewal date.
	ListRenewalCandidates(ctx context.Context) ([]*model.Membership, error)
}

type membershipRepoImpl struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) MembershipRepository {
	return &membershipRepoImpl{
		db: db,
	}
}

func (r *membershipRepoImpl) Get(ctx context.Context, userID int64) (*model.Membership, error) {
	var m model.Membership
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&m).Error

	if err != nil {
		return nil, err
	}

	return &m, nil
}

func (r *membershipRepoImpl) GetOrCreate(ctx context.Context, userID int64) (*model.Membership, error) {
	m, err := r.Get(ctx, userID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	m = &model.Membership{UserID: userID}
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}

	return m, nil
}

func (r *membershipRepoImpl) Save(ctx context.Context, m *model.Membership) error {
	return r.db.WithContext(ctx).Save(m).Error
}

func (r *membershipRepoImpl) UpdateFields(ctx context.Context, userID int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Membership{}).
		Where("user_id = ?", userID).
		Updates(fields).Error
}

func (r *membershipRepoImpl) ListRenewalCandidates(ctx context.Context) ([]*model.Membership, error) {
	var members []*model.Membership
	err := r.db.WithContext(ctx).
		Where("renewal_date IS NOT NULL").
		Where("roles LIKE ? OR roles LIKE ?", "%"+model.RoleMember+"%", "%"+model.RoleFamilyOwner+"%").
		Find(&members).Error

	if err != nil {
		return nil, err
	}

	return members, nil
}
