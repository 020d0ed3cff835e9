package models

import (
	"time"

	"gorm.io/gorm"
)

// Campaign represents an email campaign. Once the scheduler picks it up the
// batch fields below are mutated exclusively by the campaign worker.
type Campaign struct {
	gorm.Model
	UserID         uint  `gorm:"not null;index" json:"user_id"`
	EmailAccountID *uint `gorm:"index" json:"email_account_id"`

	// Campaign details
	Name        string `gorm:"not null" json:"name"`
	Subject     string `json:"subject"`
	HTMLContent string `gorm:"type:text" json:"html_content"`
	SenderName  string `json:"sender_name"`

	// Legacy envelope: older rows carry a JSON-encoded
	// {description, sender_name, personalized_emails} blob in this column.
	// Decoded defensively by utils.DecodeCampaignEnvelope.
	Description string `gorm:"type:text" json:"description"`

	// Scheduling
	Status      string     `gorm:"default:'draft';index" json:"status"` // draft, scheduled, sending, running, paused, completed
	ScheduledAt *time.Time `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`

	// Batch pacing. Batches are spaced 24h apart with a ±5 minute window.
	DailySendLimit     int        `gorm:"default:5" json:"daily_send_limit"`
	FirstBatchSentAt   *time.Time `json:"first_batch_sent_at"`
	NextBatchSendTime  *time.Time `json:"next_batch_send_time"`
	CurrentBatchNumber int        `gorm:"default:0" json:"current_batch_number"`

	// Tracking settings
	TrackOpens  bool `gorm:"default:true" json:"track_opens"`
	TrackClicks bool `gorm:"default:true" json:"track_clicks"`

	// Statistics (denormalized; recomputed from tracking rows on completion)
	TotalContacts int `gorm:"default:0" json:"total_contacts"`
	EmailsSent    int `gorm:"default:0" json:"emails_sent"`
	EmailsBounced int `gorm:"default:0" json:"emails_bounced"`
	OpenCount     int `gorm:"default:0" json:"open_count"`
	ClickCount    int `gorm:"default:0" json:"click_count"`

	// Relations
	ContactLists []CampaignContactList `gorm:"foreignKey:CampaignID" json:"contact_lists,omitempty"`
	Steps        []CampaignStep        `gorm:"foreignKey:CampaignID" json:"steps,omitempty"`
	EmailAccount *EmailAccount         `json:"email_account,omitempty"`
}

// CampaignStep is one email of a multi-step sequence campaign. Campaigns
// without HTMLContent send the lowest-numbered active step.
type CampaignStep struct {
	gorm.Model
	CampaignID uint `gorm:"not null;index" json:"campaign_id"`

	StepNumber int    `gorm:"not null" json:"step_number"`
	Subject    string `gorm:"not null" json:"subject"`
	Body       string `gorm:"type:text" json:"body"`
	WaitDays   int    `gorm:"default:0" json:"wait_days"`
	IsActive   bool   `gorm:"default:true" json:"is_active"`
}

// CampaignContactList joins campaigns to contact lists
type CampaignContactList struct {
	gorm.Model
	CampaignID    uint `gorm:"not null;index" json:"campaign_id"`
	ContactListID uint `gorm:"not null;index" json:"contact_list_id"`
}

// EmailTracking is the per-(campaign, contact) send attempt record. It doubles
// as the de-duplication guard: a contact with a non-failed record is skipped
// on subsequent batches.
type EmailTracking struct {
	gorm.Model
	CampaignID     uint  `gorm:"not null;index:idx_campaign_contact" json:"campaign_id"`
	ContactID      uint  `gorm:"not null;index:idx_campaign_contact" json:"contact_id"`
	UserID         uint  `gorm:"not null;index" json:"user_id"`
	EmailAccountID *uint `json:"email_account_id"`

	Recipient string `gorm:"not null" json:"recipient"`
	Subject   string `json:"subject"`

	Status string `gorm:"default:'pending';index" json:"status"` // pending, delivered, failed

	MessageID  string `gorm:"index" json:"message_id"`
	TrackingID string `gorm:"uniqueIndex" json:"tracking_id"`
	PixelID    string `json:"pixel_id"`

	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	BouncedAt   *time.Time `json:"bounced_at"`
	OpenedAt    *time.Time `json:"opened_at"`
	ClickedAt   *time.Time `json:"clicked_at"`

	BounceReason string `json:"bounce_reason,omitempty"`
}
