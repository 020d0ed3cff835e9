package models

import (
	"time"

	"gorm.io/gorm"
)

// Plan represents a subscription tier. A limit of -1 means unlimited.
type Plan struct {
	gorm.Model
	Name        string `gorm:"not null;uniqueIndex" json:"name"` // free, starter, grow, enterprise
	Description string `json:"description"`

	// Monthly limits consulted by the usage ledger
	EmailsPerMonth      int `gorm:"not null" json:"emails_per_month"`
	Contacts            int `gorm:"not null" json:"contacts"`
	CampaignsPerMonth   int `gorm:"not null" json:"campaigns_per_month"`
	EnrichmentsPerMonth int `gorm:"not null" json:"enrichments_per_month"`

	// Features
	MaxEmailAccounts int  `gorm:"default:1" json:"max_email_accounts"`
	DailySendLimit   int  `gorm:"default:5" json:"daily_send_limit"`
	TrackingEnabled  bool `gorm:"default:true" json:"tracking_enabled"`

	// For display purposes
	DisplayPrice string `gorm:"-" json:"display_price"` // e.g. "$20"
	IsPopular    bool   `gorm:"default:false" json:"is_popular"`

	StripePriceID   string `json:"stripe_price_id"`                           // price_xxx from Stripe dashboard
	BillingInterval string `json:"billing_interval" gorm:"default:'monthly'"` // monthly, yearly
}

// Subscription mirrors the Stripe subscription object for a user. Status
// follows the provider lifecycle and is only mutated by the billing webhook.
type Subscription struct {
	gorm.Model
	UserID uint  `gorm:"not null;index" json:"user_id"`
	PlanID *uint `json:"plan_id,omitempty"`

	StripeSubscriptionID string `gorm:"not null;uniqueIndex" json:"stripe_subscription_id"`
	StripeCustomerID     string `gorm:"index" json:"stripe_customer_id"`
	StripePriceID        string `json:"stripe_price_id"`

	Status             string     `gorm:"not null;default:'trialing'" json:"status"` // trialing, active, past_due, canceled
	CurrentPeriodStart *time.Time `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt         *time.Time `json:"canceled_at"`

	LastPaymentError string `json:"last_payment_error,omitempty"`

	// Relations
	User User  `json:"-"`
	Plan *Plan `json:"plan,omitempty"`
}

// IsUsable reports whether the subscription grants plan access.
func (s *Subscription) IsUsable() bool {
	return s.Status == "active" || s.Status == "trialing"
}
