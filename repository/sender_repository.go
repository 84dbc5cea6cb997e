package repository

import (
	"context"

	"sendloop/models"

	"gorm.io/gorm"
)

// SenderRepository exposes the sender accounts bound to a campaign and
// their usage counters.
type SenderRepository interface {
	// ListBound returns the active senders bound to the campaign, in
	// binding order.
	ListBound(ctx context.Context, campaignID uint) ([]models.Sender, error)
	GetByID(ctx context.Context, id uint) (*models.Sender, error)
	// IncrementUsage bumps the sender-level counters after a successful
	// send.
	IncrementUsage(ctx context.Context, senderID uint) error
	IncrementBindingSent(ctx context.Context, campaignID, senderID uint) error
	IncrementBindingReplies(ctx context.Context, campaignID, senderID uint) error
	SetError(ctx context.Context, senderID uint, msg string) error
	// ResetDailyCounts zeroes sent_today across all senders and reports
	// how many rows were touched.
	ResetDailyCounts(ctx context.Context) (int64, error)
}

type senderRepository struct {
	db *gorm.DB
}

func NewSenderRepository(db *gorm.DB) SenderRepository {
	return &senderRepository{db: db}
}

func (r *senderRepository) ListBound(ctx context.Context, campaignID uint) ([]models.Sender, error) {
	var senders []models.Sender
	err := r.db.WithContext(ctx).
		Joins("JOIN campaign_senders cs ON cs.sender_id = senders.id").
		Where("cs.campaign_id = ? AND cs.deleted_at IS NULL AND senders.is_active = ?", campaignID, true).
		Order("cs.id ASC").
		Find(&senders).Error
	return senders, err
}

func (r *senderRepository) GetByID(ctx context.Context, id uint) (*models.Sender, error) {
	var sender models.Sender
	if err := r.db.WithContext(ctx).First(&sender, id).Error; err != nil {
		return nil, err
	}
	return &sender, nil
}

func (r *senderRepository) IncrementUsage(ctx context.Context, senderID uint) error {
	return r.db.WithContext(ctx).Model(&models.Sender{}).
		Where("id = ?", senderID).
		Updates(map[string]interface{}{
			"sent_today": gorm.Expr("sent_today + ?", 1),
			"total_sent": gorm.Expr("total_sent + ?", 1),
		}).Error
}

func (r *senderRepository) IncrementBindingSent(ctx context.Context, campaignID, senderID uint) error {
	return r.db.WithContext(ctx).Model(&models.CampaignSender{}).
		Where("campaign_id = ? AND sender_id = ?", campaignID, senderID).
		Update("messages_sent", gorm.Expr("messages_sent + ?", 1)).Error
}

func (r *senderRepository) IncrementBindingReplies(ctx context.Context, campaignID, senderID uint) error {
	return r.db.WithContext(ctx).Model(&models.CampaignSender{}).
		Where("campaign_id = ? AND sender_id = ?", campaignID, senderID).
		Update("replies_received", gorm.Expr("replies_received + ?", 1)).Error
}

func (r *senderRepository) SetError(ctx context.Context, senderID uint, msg string) error {
	return r.db.WithContext(ctx).Model(&models.Sender{}).
		Where("id = ?", senderID).
		Update("last_error", msg).Error
}

func (r *senderRepository) ResetDailyCounts(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Sender{}).
		Where("sent_today > 0").
		Update("sent_today", 0)
	return res.RowsAffected, res.Error
}
