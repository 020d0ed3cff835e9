package controller

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"reachly/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Subscription{},
	))
	return db
}

func newBillingController(db *gorm.DB) *BillingController {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewBillingController(db, log)
}

// newCheckoutApp mounts the checkout route behind a stub that injects the
// authenticated user the way Protected() would.
func newCheckoutApp(bc *BillingController, user *models.User) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", user)
		return c.Next()
	})
	app.Post("/api/billing/checkout", bc.CreateCheckoutSession)
	return app
}

func TestCreateCheckoutSessionUnknownPlan(t *testing.T) {
	db := newBillingTestDB(t)
	user := models.User{Email: "owner@test.local"}
	require.NoError(t, db.Create(&user).Error)

	app := newCheckoutApp(newBillingController(db), &user)

	req := httptest.NewRequest(fiber.MethodPost, "/api/billing/checkout",
		strings.NewReader(`{"plan_id": 999}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCreateCheckoutSessionRequiresPurchasablePlan(t *testing.T) {
	db := newBillingTestDB(t)
	user := models.User{Email: "owner@test.local"}
	require.NoError(t, db.Create(&user).Error)

	// The free plan carries no Stripe price and cannot be checked out.
	plan := models.Plan{Name: "free", EmailsPerMonth: 100, Contacts: 100, CampaignsPerMonth: 1, EnrichmentsPerMonth: 0}
	require.NoError(t, db.Create(&plan).Error)

	app := newCheckoutApp(newBillingController(db), &user)

	req := httptest.NewRequest(fiber.MethodPost, "/api/billing/checkout",
		strings.NewReader(fmt.Sprintf(`{"plan_id": %d}`, plan.ID)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestEnsureStripeCustomerReusesStoredID(t *testing.T) {
	db := newBillingTestDB(t)
	existing := "cus_existing"
	user := models.User{Email: "owner@test.local", StripeCustomerID: &existing}
	require.NoError(t, db.Create(&user).Error)

	got, err := newBillingController(db).EnsureStripeCustomer(&user)
	require.NoError(t, err)
	assert.Equal(t, existing, got)
}
