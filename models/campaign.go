package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign statuses. Transitions are monotonic except running <-> paused;
// once a campaign reaches completed, failed or cancelled no further sends
// happen for it.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusRunning   = "running"
	CampaignStatusPaused    = "paused"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
	CampaignStatusCancelled = "cancelled"
)

// Message variant selection order at send time.
const (
	MessageOrderRoundRobin = "round_robin"
	MessageOrderRandom     = "random"
)

// Campaign represents a bulk messaging campaign
type Campaign struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Campaign details
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	// Pacing window: each sender waits a uniformly random delay drawn from
	// [MinIntervalSeconds, MaxIntervalSeconds] between its sends. Equal
	// bounds degrade to a fixed interval.
	MinIntervalSeconds int    `gorm:"not null;default:30" json:"min_interval_seconds"`
	MaxIntervalSeconds int    `gorm:"not null;default:90" json:"max_interval_seconds"`
	MessageOrder       string `gorm:"default:'round_robin'" json:"message_order"`

	// Scheduling
	Status      string     `gorm:"default:'draft';index" json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	LastError   string     `json:"last_error"`

	// Statistics (denormalized for performance)
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	TotalSent       int `gorm:"default:0" json:"total_sent"`
	TotalFailed     int `gorm:"default:0" json:"total_failed"`
	TotalReplies    int `gorm:"default:0" json:"total_replies"`

	// Relations
	Messages     []CampaignMessage     `gorm:"foreignKey:CampaignID" json:"messages,omitempty"`
	Senders      []CampaignSender      `gorm:"foreignKey:CampaignID" json:"senders,omitempty"`
	ContactLists []CampaignContactList `gorm:"foreignKey:CampaignID" json:"contact_lists,omitempty"`
}

// IsTerminal reports whether the campaign can never send again.
func (c *Campaign) IsTerminal() bool {
	switch c.Status {
	case CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	}
	return false
}

// PacingWindow returns the configured jitter bounds as durations.
func (c *Campaign) PacingWindow() (time.Duration, time.Duration) {
	min := time.Duration(c.MinIntervalSeconds) * time.Second
	max := time.Duration(c.MaxIntervalSeconds) * time.Second
	if max < min {
		max = min
	}
	return min, max
}

// CampaignMessage is one of several message variants for a campaign,
// rotated at send time to diversify content.
type CampaignMessage struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	Body     string `gorm:"not null" json:"body"`
	MediaURL string `json:"media_url"`
	Position int    `gorm:"default:0" json:"position"`

	Campaign Campaign `json:"-"`
}

// CampaignSender binds a sender account to a campaign and carries
// per-binding counters
type CampaignSender struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index:idx_campaign_sender,unique" json:"campaign_id"`
	SenderID   uint `gorm:"not null;index:idx_campaign_sender,unique" json:"sender_id"`

	MessagesSent    int `gorm:"default:0" json:"messages_sent"`
	RepliesReceived int `gorm:"default:0" json:"replies_received"`

	Sender Sender `json:"sender,omitempty"`
}

// CampaignContactList joins campaigns to contact lists
type CampaignContactList struct {
	gorm.Model
	CampaignID    uint `gorm:"not null;index" json:"campaign_id"`
	ContactListID uint `gorm:"not null;index" json:"contact_list_id"`
}
