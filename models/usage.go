package models

import (
	"time"

	"gorm.io/gorm"
)

// UsageMetrics holds per-user counters for one billing period (YYYY-MM).
// Period rollover is implicit: a new period gets a new row.
type UsageMetrics struct {
	gorm.Model
	UserID uint   `gorm:"not null;index:idx_user_period,unique" json:"user_id"`
	Period string `gorm:"not null;index:idx_user_period,unique" json:"period"` // YYYY-MM

	EmailsSent       int `gorm:"default:0" json:"emails_sent"`
	ContactsCount    int `gorm:"default:0" json:"contacts_count"`
	CampaignsCount   int `gorm:"default:0" json:"campaigns_count"`
	EnrichmentsCount int `gorm:"default:0" json:"enrichments_count"`
}

// UsageRestriction blocks a feature once its limit has been exceeded.
// Upserted per (user, feature); cleared by support action, not automatically.
type UsageRestriction struct {
	gorm.Model
	UserID  uint   `gorm:"not null;index:idx_user_feature,unique" json:"user_id"`
	Feature string `gorm:"not null;index:idx_user_feature,unique" json:"feature"` // emails, contacts, campaigns, enrichments

	IsRestricted bool   `gorm:"default:true" json:"is_restricted"`
	Reason       string `json:"reason"`
}

// UsageAlert is a threshold notification row (warning at 80%, limit_reached
// at 95%, limit_exceeded past 100%). Upserted per (user, feature, type).
type UsageAlert struct {
	gorm.Model
	UserID  uint   `gorm:"not null;index" json:"user_id"`
	Feature string `gorm:"not null" json:"feature"`
	Type    string `gorm:"not null" json:"type"` // warning, limit_reached, limit_exceeded

	Message        string     `json:"message"`
	AcknowledgedAt *time.Time `json:"acknowledged_at"`
}
