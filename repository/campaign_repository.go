package repository

import (
	"context"
	"errors"
	"time"

	"sendloop/models"

	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when a guarded status update finds the
// campaign in a state it is not allowed to move from.
var ErrInvalidTransition = errors.New("invalid campaign status transition")

// CampaignRepository is the campaign data access used by the dispatch
// engine and the scheduler.
type CampaignRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Campaign, error)
	// GetWithRelations loads the campaign with its message variants (in
	// position order) and sender bindings.
	GetWithRelations(ctx context.Context, id uint) (*models.Campaign, error)
	// UpdateStatus moves the campaign from one of the allowed statuses to
	// the target status. Fails with ErrInvalidTransition if the row is not
	// currently in an allowed status, which keeps transitions monotonic
	// under concurrent control calls.
	UpdateStatus(ctx context.Context, id uint, from []string, to string) error
	MarkStarted(ctx context.Context, id uint, totalRecipients int) error
	MarkCompleted(ctx context.Context, id uint) error
	SetError(ctx context.Context, id uint, msg string) error
	IncrementCounters(ctx context.Context, id uint, sent, failed, replies int) error
	ListDueScheduled(ctx context.Context, now time.Time) ([]models.Campaign, error)
	// ListRunning returns campaigns persisted as running; used on boot to
	// resume work interrupted by a crash.
	ListRunning(ctx context.Context) ([]models.Campaign, error)
}

type campaignRepository struct {
	db *gorm.DB
}

func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func (r *campaignRepository) GetByID(ctx context.Context, id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	if err := r.db.WithContext(ctx).First(&campaign, id).Error; err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepository) GetWithRelations(ctx context.Context, id uint) (*models.Campaign, error) {
	var campaign models.Campaign
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		Preload("Senders").
		First(&campaign, id).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *campaignRepository) UpdateStatus(ctx context.Context, id uint, from []string, to string) error {
	res := r.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *campaignRepository) MarkStarted(ctx context.Context, id uint, totalRecipients int) error {
	return r.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"started_at":       time.Now(),
			"total_recipients": totalRecipients,
			"last_error":       "",
		}).Error
}

func (r *campaignRepository) MarkCompleted(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, models.CampaignStatusRunning).
		Updates(map[string]interface{}{
			"status":       models.CampaignStatusCompleted,
			"completed_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (r *campaignRepository) SetError(ctx context.Context, id uint, msg string) error {
	return r.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", id).
		Update("last_error", msg).Error
}

func (r *campaignRepository) IncrementCounters(ctx context.Context, id uint, sent, failed, replies int) error {
	updates := map[string]interface{}{}
	if sent != 0 {
		updates["total_sent"] = gorm.Expr("total_sent + ?", sent)
	}
	if failed != 0 {
		updates["total_failed"] = gorm.Expr("total_failed + ?", failed)
	}
	if replies != 0 {
		updates["total_replies"] = gorm.Expr("total_replies + ?", replies)
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *campaignRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", models.CampaignStatusScheduled, now).
		Order("scheduled_at ASC").
		Find(&campaigns).Error
	return campaigns, err
}

func (r *campaignRepository) ListRunning(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := r.db.WithContext(ctx).
		Where("status = ?", models.CampaignStatusRunning).
		Find(&campaigns).Error
	return campaigns, err
}
