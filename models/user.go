package models

import (
	"gorm.io/gorm"
)

// User represents an account holder. Registration and credential management
// live in the auth service; this backend only needs the identity row, the
// Stripe linkage and the plan used for limit checks.
type User struct {
	gorm.Model
	Email    string  `gorm:"not null;uniqueIndex" json:"email"`
	Name     *string `json:"name"`
	IsActive bool    `gorm:"default:true" json:"is_active"`

	TokenVersion int `gorm:"default:0" json:"-"`

	StripeCustomerID *string `gorm:"index" json:"stripe_customer_id,omitempty"`

	// Relations
	Subscription  *Subscription  `gorm:"foreignKey:UserID" json:"subscription,omitempty"`
	EmailAccounts []EmailAccount `gorm:"foreignKey:UserID" json:"email_accounts,omitempty"`
}
