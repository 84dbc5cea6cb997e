package repository

import (
	"context"
	"time"

	"sendloop/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SentMessageRepository persists per-(campaign, contact) attempt outcomes.
type SentMessageRepository interface {
	// RecordOutcome inserts the outcome row for (campaign, contact). The
	// insert is idempotent: if a row already exists it is left untouched
	// and inserted is false, so callers never double-count a retried
	// classification step.
	RecordOutcome(ctx context.Context, msg *models.SentMessage) (inserted bool, err error)
	FindByUUID(ctx context.Context, messageUUID string) (*models.SentMessage, error)
	// MarkDelivered and MarkReplied upgrade a sent row from gateway
	// receipts; they report whether the row actually changed.
	MarkDelivered(ctx context.Context, messageUUID string) (bool, error)
	MarkReplied(ctx context.Context, messageUUID string, at time.Time) (*models.SentMessage, error)
}

type sentMessageRepository struct {
	db *gorm.DB
}

func NewSentMessageRepository(db *gorm.DB) SentMessageRepository {
	return &sentMessageRepository{db: db}
}

func (r *sentMessageRepository) RecordOutcome(ctx context.Context, msg *models.SentMessage) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "campaign_id"}, {Name: "contact_id"}},
		DoNothing: true,
	}).Create(msg)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *sentMessageRepository) FindByUUID(ctx context.Context, messageUUID string) (*models.SentMessage, error) {
	var msg models.SentMessage
	if err := r.db.WithContext(ctx).Where("message_uuid = ?", messageUUID).First(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *sentMessageRepository) MarkDelivered(ctx context.Context, messageUUID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.SentMessage{}).
		Where("message_uuid = ? AND status = ?", messageUUID, models.MessageStatusSent).
		Update("status", models.MessageStatusDelivered)
	return res.RowsAffected > 0, res.Error
}

func (r *sentMessageRepository) MarkReplied(ctx context.Context, messageUUID string, at time.Time) (*models.SentMessage, error) {
	var msg models.SentMessage
	if err := r.db.WithContext(ctx).Where("message_uuid = ?", messageUUID).First(&msg).Error; err != nil {
		return nil, err
	}
	if msg.RepliedAt != nil {
		return nil, nil // already counted
	}
	// Only sent or delivered rows upgrade; a terminal failed row keeps
	// its failure record even if the gateway later reports a reply.
	switch msg.Status {
	case models.MessageStatusSent, models.MessageStatusDelivered:
	default:
		return nil, nil
	}
	err := r.db.WithContext(ctx).Model(&msg).Updates(map[string]interface{}{
		"status":     models.MessageStatusReplied,
		"replied_at": at,
	}).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
