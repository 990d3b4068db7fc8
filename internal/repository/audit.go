package repository

import (
	"context"
	"lgl-sync/internal/model"

	"gorm.io/gorm"
)

type AuditRepository interface {
	Append(ctx context.Context, entry *model.MembershipAuditEntry) error
	ListByUser(ctx context.Context, userID int64) ([]*model.MembershipAuditEntry, error)
}

type auditRepoImpl struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepoImpl{
		db: db,
	}
}

func (r *auditRepoImpl) Append(ctx context.Context, entry *model.MembershipAuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepoImpl) ListByUser(ctx context.Context, userID int64) ([]*model.MembershipAuditEntry, error) {
	var entries []*model.MembershipAuditEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&entries).Error

	if err != nil {
		return nil, err
	}

	return entries, nil
}
