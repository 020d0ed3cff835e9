package models

import (
	"time"

	"gorm.io/gorm"
)

// Contact represents a single outreach recipient
type Contact struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `gorm:"not null;index" json:"email"`
	Company   string `json:"company"`
	Title     string `json:"title"`

	// Enrichment sources
	Website     string `json:"website"`
	LinkedInURL string `json:"linkedin_url"`

	// Enrichment state
	EnrichmentData map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"enrichment_data,omitempty"`
	EnrichedAt     *time.Time             `json:"enriched_at"`

	// Suppression flags
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`

	// Relations
	Memberships []ContactListMembership `gorm:"foreignKey:ContactID" json:"memberships,omitempty"`
}

// ContactList groups contacts for campaign targeting
type ContactList struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	ContactCount int `gorm:"default:0" json:"contact_count"`

	// Relations
	Memberships []ContactListMembership `gorm:"foreignKey:ContactListID" json:"memberships,omitempty"`
}

// ContactListMembership joins contacts to lists
type ContactListMembership struct {
	gorm.Model
	ContactID     uint `gorm:"not null;index" json:"contact_id"`
	ContactListID uint `gorm:"not null;index" json:"contact_list_id"`
}
