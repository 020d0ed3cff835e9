package models

import (
	"time"

	"gorm.io/gorm"
)

// Notification is the asynchronous side-channel for job lifecycle events
// (enrichment_started, enrichment_completed, enrichment_failed). Rows are
// persisted for later delivery; the websocket stream is best-effort on top.
type Notification struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Type    string `gorm:"not null" json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`

	Data map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"data,omitempty"`

	ReadAt *time.Time `json:"read_at"`
}
