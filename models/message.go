package models

import (
	"time"

	"gorm.io/gorm"
)

// SentMessage statuses. sent, delivered, failed and replied are terminal
// for dispatch purposes: a contact with such a row is never sent again in
// the same campaign.
const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusFailed    = "failed"
	MessageStatusReplied   = "replied"
)

// TerminalMessageStatuses are the statuses the contact feed skips over
// when resuming a campaign.
var TerminalMessageStatuses = []string{
	MessageStatusSent,
	MessageStatusDelivered,
	MessageStatusFailed,
	MessageStatusReplied,
}

// SentMessage is the durable per-(campaign, contact) attempt outcome.
// The unique index makes outcome recording idempotent: a retried
// classification step never produces a second row.
type SentMessage struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index;uniqueIndex:idx_campaign_contact" json:"campaign_id"`
	ContactID  uint `gorm:"not null;uniqueIndex:idx_campaign_contact" json:"contact_id"`

	SenderID          uint   `gorm:"index" json:"sender_id"`
	CampaignMessageID uint   `json:"campaign_message_id"` // which variant was used
	MessageUUID       string `gorm:"index" json:"message_uuid"`

	Status        string `gorm:"not null;default:'pending'" json:"status"`
	Attempts      int    `gorm:"default:1" json:"attempts"`
	FailureReason string `json:"failure_reason"`

	SentAt    *time.Time `json:"sent_at"`
	RepliedAt *time.Time `json:"replied_at"`

	Campaign Campaign `json:"-"`
	Contact  Contact  `json:"-"`
}
