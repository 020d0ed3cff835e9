package models

import (
	"time"

	"gorm.io/gorm"
)

// BulkEnrichmentJob is a resumable enrichment batch run. Progress is the
// persisted cursor: the next slice starts at Completed+Failed.
type BulkEnrichmentJob struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Status string `gorm:"default:'pending';index" json:"status"` // pending, running, completed, failed, cancelled

	// Eligible contact ids, in processing order
	ContactIDs []uint `gorm:"type:jsonb;serializer:json" json:"contact_ids"`

	BatchSize int `gorm:"default:5" json:"batch_size"`

	Progress JobProgress        `gorm:"type:jsonb;serializer:json" json:"progress"`
	Results  []EnrichmentResult `gorm:"type:jsonb;serializer:json" json:"results"`

	Error string `json:"error,omitempty"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// JobProgress counters are monotonically non-decreasing;
// Completed+Failed never exceeds Total.
type JobProgress struct {
	Total        int `json:"total"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`
	CurrentBatch int `json:"current_batch"`
}

// Cursor returns the index of the next unprocessed contact.
func (p JobProgress) Cursor() int {
	return p.Completed + p.Failed
}

// EnrichmentResult records the outcome for one contact. Results are upserted
// by contact id, so a retried contact overwrites its earlier entry.
type EnrichmentResult struct {
	ContactID    uint                   `json:"contact_id"`
	ScrapeStatus string                 `json:"scrape_status"` // completed, failed
	Source       string                 `json:"source"`        // website, linkedin
	Data         map[string]interface{} `json:"data,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Retryable    bool                   `json:"retryable,omitempty"`
	EnrichedAt   time.Time              `json:"enriched_at"`
}
