package models

import (
	"time"

	"gorm.io/gorm"
)

// EmailAccount holds the sending and bounce-inbox credentials for a user.
type EmailAccount struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	// Basic identification
	Name      string `gorm:"not null" json:"name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	FromName  string `gorm:"not null" json:"from_name"`

	// Connection Type
	ProviderType string `gorm:"not null;default:'smtp'" json:"provider_type"` // smtp, gmail

	// ========= SMTP Configuration =========
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"` // Encrypted in application layer
	Encryption   string `json:"encryption" gorm:"default:'STARTTLS'"`

	// ========= IMAP Configuration (bounce inbox) =========
	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port" gorm:"default:993"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"-"` // Encrypted in application layer
	IMAPMailbox  string `json:"imap_mailbox" gorm:"default:'INBOX'"`

	// ========= OAuth Configuration =========
	OAuthProvider     string    `gorm:"column:oauth_provider" json:"oauth_provider"` // google
	OAuthToken        string    `gorm:"column:oauth_token" json:"-"`
	OAuthRefreshToken string    `gorm:"column:oauth_refresh_token" json:"-"`
	OAuthExpiry       time.Time `gorm:"column:oauth_expiry" json:"oauth_expiry"`

	// ========= Status =========
	IsActive     bool       `gorm:"default:true" json:"is_active"`
	LastTestedAt *time.Time `json:"last_tested_at"`
	LastError    *string    `json:"last_error"`

	// Bounce worker checkpoint
	LastBounceCheckAt *time.Time `json:"last_bounce_check_at"`

	// ========= Usage =========
	DailyLimit int `gorm:"default:500" json:"daily_limit"`
	SentToday  int `gorm:"default:0" json:"sent_today"`
	TotalSent  int `gorm:"default:0" json:"total_sent"`
}

// Sanitize strips credentials before the account is serialized to a client.
func (a *EmailAccount) Sanitize() {
	a.SMTPPassword = ""
	a.IMAPPassword = ""
	a.OAuthToken = ""
	a.OAuthRefreshToken = ""
}
