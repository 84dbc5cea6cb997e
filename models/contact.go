package models

import (
	"gorm.io/gorm"
)

// ContactList represents a list of contacts
type ContactList struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Source      string `json:"source"` // manual, csv, api

	// Statistics
	ContactCount int `gorm:"default:0" json:"contact_count"`

	// Relations
	Contacts []Contact `gorm:"foreignKey:ContactListID" json:"contacts,omitempty"`
}

// Contact represents a single recipient. Contacts belong to exactly one
// list; dispatch order follows creation order (ascending id) so campaign
// progress is reproducible after a restart.
type Contact struct {
	gorm.Model
	ContactListID uint `gorm:"not null;index" json:"contact_list_id"`

	PhoneNumber string `gorm:"not null;index" json:"phone_number"`
	Name        string `json:"name"`

	// Free-form custom fields, available to template substitution
	Extra map[string]string `gorm:"type:jsonb;serializer:json" json:"extra,omitempty"`

	ContactList ContactList `json:"-"`
}
