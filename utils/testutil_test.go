package utils

import (
	"fmt"
	"testing"

	"reachly/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Subscription{},
		&models.EmailAccount{},
		&models.Contact{},
		&models.ContactList{},
		&models.ContactListMembership{},
		&models.Campaign{},
		&models.CampaignStep{},
		&models.CampaignContactList{},
		&models.EmailTracking{},
		&models.BulkEnrichmentJob{},
		&models.UsageMetrics{},
		&models.UsageRestriction{},
		&models.UsageAlert{},
		&models.Notification{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	if err := models.CreateDefaultPlans(db); err != nil {
		t.Fatalf("failed to seed plans: %v", err)
	}
	return db
}
