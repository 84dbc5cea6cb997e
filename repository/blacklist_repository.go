package repository

import (
	"context"

	"sendloop/models"

	"gorm.io/gorm"
)

// BlacklistRepository answers opt-out lookups. The contact feed consults
// it before every yield, so entries added mid-campaign take effect on the
// next send, not the next run.
type BlacklistRepository interface {
	// IsBlocked reports whether the phone number is blacklisted globally
	// or for the given user.
	IsBlocked(ctx context.Context, phoneNumber string, userID uint) (bool, error)
	Add(ctx context.Context, entry *models.BlacklistEntry) error
}

type blacklistRepository struct {
	db *gorm.DB
}

func NewBlacklistRepository(db *gorm.DB) BlacklistRepository {
	return &blacklistRepository{db: db}
}

func (r *blacklistRepository) IsBlocked(ctx context.Context, phoneNumber string, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.BlacklistEntry{}).
		Where("phone_number = ? AND (user_id IS NULL OR user_id = ?)", phoneNumber, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *blacklistRepository) Add(ctx context.Context, entry *models.BlacklistEntry) error {
	q := r.db.WithContext(ctx).Where("phone_number = ?", entry.PhoneNumber)
	// user_id = NULL matches nothing, so global entries need IS NULL or
	// every replayed add would insert a duplicate row.
	if entry.UserID == nil {
		q = q.Where("user_id IS NULL")
	} else {
		q = q.Where("user_id = ?", *entry.UserID)
	}
	return q.FirstOrCreate(entry).Error
}
