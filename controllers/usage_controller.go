package controller

import (
	"reachly/models"
	"reachly/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type UsageController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Usage  *utils.UsageTracker
}

func NewUsageController(db *gorm.DB, usage *utils.UsageTracker, logger *logrus.Logger) *UsageController {
	return &UsageController{DB: db, Logger: logger, Usage: usage}
}

// GetUsage returns the current period's counters alongside the plan limits
// so the dashboard can render progress bars in one call.
func (uc *UsageController) GetUsage(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	usage, err := uc.Usage.GetUsage(user.ID)
	if err != nil {
		uc.Logger.Errorf("failed to load usage for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch usage",
		})
	}
	plan, err := uc.Usage.PlanFor(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve plan",
		})
	}

	return c.JSON(fiber.Map{
		"period": utils.CurrentPeriod(),
		"usage":  usage,
		"plan":   plan,
		"limits": fiber.Map{
			"emails_per_month":      plan.EmailsPerMonth,
			"contacts":              plan.Contacts,
			"campaigns_per_month":   plan.CampaignsPerMonth,
			"enrichments_per_month": plan.EnrichmentsPerMonth,
		},
	})
}

func (uc *UsageController) CheckLimits(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	check, err := uc.Usage.CheckLimits(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check limits",
		})
	}
	return c.JSON(check)
}

// CheckAction answers whether one named action is currently allowed.
func (uc *UsageController) CheckAction(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	action := utils.UsageAction(c.Query("action"))
	check, err := uc.Usage.CanPerformAction(user.ID, action)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(check)
}

func (uc *UsageController) GetAlerts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var alerts []models.UsageAlert
	if err := uc.DB.Where("user_id = ?", user.ID).
		Order("updated_at DESC").
		Limit(20).
		Find(&alerts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch alerts",
		})
	}
	return c.JSON(alerts)
}
