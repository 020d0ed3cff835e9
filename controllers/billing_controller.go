package controller

import (
	"encoding/json"
	"errors"
	"time"

	"reachly/config"
	"reachly/models"
	"reachly/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"
)

// InitStripe sets the package-level API key. Call once at startup.
func InitStripe() {
	stripe.Key = config.AppConfig.StripeSecretKey
}

type BillingController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewBillingController(db *gorm.DB, logger *logrus.Logger) *BillingController {
	return &BillingController{DB: db, Logger: logger}
}

func (bc *BillingController) GetPlans(c *fiber.Ctx) error {
	var plans []models.Plan
	if err := bc.DB.Order("emails_per_month ASC").Find(&plans).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch plans",
		})
	}
	return c.JSON(plans)
}

func (bc *BillingController) GetSubscription(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var sub models.Subscription
	err := bc.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Preload("Plan").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var free models.Plan
		bc.DB.Where("name = ?", "free").First(&free)
		return c.JSON(fiber.Map{
			"subscription": nil,
			"plan":         free,
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch subscription",
		})
	}
	return c.JSON(fiber.Map{
		"subscription": sub,
		"plan":         sub.Plan,
	})
}

// CreateCheckoutSession starts a hosted subscription checkout for a plan and
// returns the payment URL. The resulting subscription flows back through the
// webhook, nothing is written locally here beyond the customer id.
func (bc *BillingController) CreateCheckoutSession(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		PlanID uint `json:"plan_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var plan models.Plan
	if err := bc.DB.First(&plan, input.PlanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Plan not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch plan",
		})
	}
	if plan.StripePriceID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Plan is not purchasable",
		})
	}

	customerID, err := bc.EnsureStripeCustomer(user)
	if err != nil {
		bc.Logger.Errorf("failed to ensure stripe customer for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to prepare billing account",
		})
	}

	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(plan.StripePriceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(config.AppConfig.FrontendURL + "/billing?checkout=success"),
		CancelURL:  stripe.String(config.AppConfig.FrontendURL + "/billing?checkout=cancelled"),
	}
	sess, err := session.New(params)
	if err != nil {
		bc.Logger.Errorf("failed to create checkout session for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create checkout session",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sess.ID,
		"url":        sess.URL,
	})
}

// HandleStripeWebhook translates the provider's subscription lifecycle events
// into local subscription rows. Unknown event types are acknowledged and
// ignored so the endpoint tolerates new events from the dashboard.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	event, err := webhook.ConstructEventWithTolerance(
		c.Body(),
		c.Get("Stripe-Signature"),
		config.AppConfig.StripeWebhookSecret,
		5*time.Minute, // tolerance for clock drift
	)
	if err != nil {
		bc.Logger.Warnf("webhook signature verification failed: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	switch event.Type {
	case "customer.subscription.updated", "customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Malformed event"})
		}
		bc.upsertSubscription(&sub, "")
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Malformed event"})
		}
		bc.cancelSubscription(&sub)
	case "invoice.payment_succeeded":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Malformed event"})
		}
		bc.recordPaymentResult(&invoice, true)
	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Malformed event"})
		}
		bc.recordPaymentResult(&invoice, false)
	default:
		bc.Logger.Debugf("ignoring stripe event %s", event.Type)
	}

	return c.JSON(fiber.Map{"received": true})
}

// upsertSubscription creates or refreshes the local row for a provider
// subscription. The owning user is resolved through the stored customer id.
func (bc *BillingController) upsertSubscription(sub *stripe.Subscription, paymentError string) {
	var user models.User
	if err := bc.DB.Where("stripe_customer_id = ?", sub.Customer.ID).First(&user).Error; err != nil {
		bc.Logger.Warnf("subscription %s for unknown customer %s", sub.ID, sub.Customer.ID)
		return
	}

	var priceID string
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}

	var planID *uint
	if priceID != "" {
		var plan models.Plan
		if err := bc.DB.Where("stripe_price_id = ?", priceID).First(&plan).Error; err == nil {
			planID = &plan.ID
		}
	}

	periodStart := time.Unix(sub.CurrentPeriodStart, 0)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)

	var row models.Subscription
	if err := bc.DB.Where("stripe_subscription_id = ?", sub.ID).
		Attrs(models.Subscription{
			UserID:               user.ID,
			StripeSubscriptionID: sub.ID,
			StripeCustomerID:     sub.Customer.ID,
		}).
		FirstOrCreate(&row).Error; err != nil {
		bc.Logger.Errorf("failed to upsert subscription %s: %v", sub.ID, err)
		return
	}

	updates := map[string]interface{}{
		"user_id":              user.ID,
		"stripe_customer_id":   sub.Customer.ID,
		"stripe_price_id":      priceID,
		"status":               string(sub.Status),
		"current_period_start": periodStart,
		"current_period_end":   periodEnd,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"last_payment_error":   paymentError,
	}
	if planID != nil {
		updates["plan_id"] = *planID
	}
	if err := bc.DB.Model(&row).Updates(updates).Error; err != nil {
		bc.Logger.Errorf("failed to update subscription %s: %v", sub.ID, err)
		return
	}

	bc.Logger.WithFields(logrus.Fields{
		"user_id":      user.ID,
		"subscription": sub.ID,
		"status":       sub.Status,
	}).Info("subscription updated")
}

func (bc *BillingController) cancelSubscription(sub *stripe.Subscription) {
	now := time.Now()
	result := bc.DB.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", sub.ID).
		Updates(map[string]interface{}{
			"status":      "canceled",
			"canceled_at": now,
		})
	if result.Error != nil {
		bc.Logger.Errorf("failed to cancel subscription %s: %v", sub.ID, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		bc.Logger.Warnf("cancel for unknown subscription %s", sub.ID)
	}
}

// recordPaymentResult updates the payment health of the invoice's
// subscription. A failed invoice moves the row to past_due, which revokes
// plan access until the retry succeeds.
func (bc *BillingController) recordPaymentResult(invoice *stripe.Invoice, succeeded bool) {
	if invoice.Subscription == nil {
		return
	}

	updates := map[string]interface{}{}
	if succeeded {
		updates["status"] = "active"
		updates["last_payment_error"] = ""
	} else {
		updates["status"] = "past_due"
		reason := "payment failed"
		if invoice.LastFinalizationError != nil {
			reason = invoice.LastFinalizationError.Msg
		}
		updates["last_payment_error"] = reason
	}

	if err := bc.DB.Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", invoice.Subscription.ID).
		Updates(updates).Error; err != nil {
		bc.Logger.Errorf("failed to record payment result for %s: %v", invoice.Subscription.ID, err)
	}
}

// EnsureStripeCustomer lazily creates the provider-side customer for a user.
// Checkout flows call this before creating a session.
func (bc *BillingController) EnsureStripeCustomer(user *models.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(user.Email),
	}
	if user.Name != nil {
		params.Name = stripe.String(*user.Name)
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", err
	}

	if err := bc.DB.Model(user).Update("stripe_customer_id", cust.ID).Error; err != nil {
		return "", err
	}
	user.StripeCustomerID = &cust.ID
	return cust.ID, nil
}
