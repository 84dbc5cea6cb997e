package models

import (
	"time"

	"gorm.io/gorm"
)

// Sender represents a connected outbound messaging account. The gateway
// session itself is managed outside this service; we only store the
// credentials and usage counters.
type Sender struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Basic identification
	Name        string `gorm:"not null" json:"name"`
	PhoneNumber string `gorm:"not null;index" json:"phone_number"`

	// Gateway credentials
	APIToken  string `gorm:"not null" json:"-"` // Encrypted in application layer
	SessionID string `json:"session_id"`

	// Status
	IsActive  bool   `gorm:"default:true" json:"is_active"`
	LastError string `json:"last_error"`

	// Usage counters
	DailyLimit int `gorm:"default:0" json:"daily_limit"` // 0 = unlimited
	SentToday  int `gorm:"default:0" json:"sent_today"`
	TotalSent  int `gorm:"default:0" json:"total_sent"`

	LastTestedAt *time.Time `json:"last_tested_at"`

	// Relations
	Campaigns []CampaignSender `gorm:"foreignKey:SenderID" json:"campaigns,omitempty"`
}

// HasCapacity reports whether the sender may still send today.
func (s *Sender) HasCapacity() bool {
	return s.DailyLimit <= 0 || s.SentToday < s.DailyLimit
}
