package models

import (
	"gorm.io/gorm"
)

// User represents a user account in the system
type User struct {
	gorm.Model

	// Authentication fields
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	TokenVersion int    `gorm:"default:0" json:"-"`

	// Profile information
	Name     *string `json:"name,omitempty"`
	Company  *string `json:"company,omitempty"`
	Timezone string  `gorm:"default:'UTC'" json:"timezone"`

	// Account status
	IsActive bool `gorm:"default:true" json:"is_active"`
	IsAdmin  bool `gorm:"default:false" json:"is_admin"`

	// Plan limits (plain counters, no billing integration)
	PlanName        string `gorm:"default:'free'" json:"plan_name"`
	MessageCredits  int    `gorm:"default:5000" json:"message_credits"`
	CreditsConsumed int    `gorm:"default:0" json:"credits_consumed"`
	MaxSenders      int    `gorm:"default:3" json:"max_senders"`

	// Webhook endpoint for campaign/message events (optional)
	WebhookURL string `json:"webhook_url"`

	// Relations
	Senders      []Sender      `gorm:"foreignKey:UserID" json:"senders,omitempty"`
	Campaigns    []Campaign    `gorm:"foreignKey:UserID" json:"campaigns,omitempty"`
	ContactLists []ContactList `gorm:"foreignKey:UserID" json:"contact_lists,omitempty"`
}
