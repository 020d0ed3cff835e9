package models

import "gorm.io/gorm"

// Initialize default plans in the database migration
func CreateDefaultPlans(db *gorm.DB) error {
	defaultPlans := []Plan{
		{
			Name:                "free",
			Description:         "Free starter plan",
			EmailsPerMonth:      200,
			Contacts:            500,
			CampaignsPerMonth:   2,
			EnrichmentsPerMonth: 25,
			MaxEmailAccounts:    1,
			DailySendLimit:      5,
		},
		{
			Name:                "starter",
			Description:         "Starter plan for small teams",
			EmailsPerMonth:      1000,
			Contacts:            5000,
			CampaignsPerMonth:   10,
			EnrichmentsPerMonth: 250,
			MaxEmailAccounts:    3,
			DailySendLimit:      50,
			DisplayPrice:        "$20",
		},
		{
			Name:                "grow",
			Description:         "Growth plan with higher sending volume",
			EmailsPerMonth:      10000,
			Contacts:            50000,
			CampaignsPerMonth:   50,
			EnrichmentsPerMonth: 2500,
			MaxEmailAccounts:    10,
			DailySendLimit:      250,
			DisplayPrice:        "$60",
			IsPopular:           true,
		},
		{
			Name:                "enterprise",
			Description:         "Custom plan for high-volume senders",
			EmailsPerMonth:      -1,
			Contacts:            -1,
			CampaignsPerMonth:   -1,
			EnrichmentsPerMonth: -1,
			MaxEmailAccounts:    50,
			DailySendLimit:      1000,
			DisplayPrice:        "$200",
		},
	}
	for _, plan := range defaultPlans {
		if err := db.FirstOrCreate(&plan, "name = ?", plan.Name).Error; err != nil {
			return err
		}
	}
	return nil
}
