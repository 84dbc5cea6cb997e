package models

import (
	"gorm.io/gorm"
)

// Blacklist entry sources.
const (
	BlacklistSourceUser   = "user"   // added manually by the account owner
	BlacklistSourceOptOut = "optout" // recipient revoked consent
	BlacklistSourceBounce = "bounce" // gateway reported the number invalid
)

// BlacklistEntry is phone-number-keyed opt-out state. A nil UserID makes
// the entry global. The contact feed consults this set before every yield,
// so a number added mid-campaign is excluded from subsequent sends.
type BlacklistEntry struct {
	gorm.Model
	PhoneNumber string `gorm:"not null;index:idx_blacklist_phone" json:"phone_number"`
	UserID      *uint  `gorm:"index" json:"user_id,omitempty"`
	Reason      string `json:"reason"`
	Source      string `gorm:"default:'user'" json:"source"`
}
