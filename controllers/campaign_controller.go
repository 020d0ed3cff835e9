package controller

import (
	"errors"
	"time"

	"reachly/models"
	"reachly/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type CampaignController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Usage  *utils.UsageTracker
}

func NewCampaignController(db *gorm.DB, usage *utils.UsageTracker, logger *logrus.Logger) *CampaignController {
	return &CampaignController{DB: db, Logger: logger, Usage: usage}
}

type campaignInput struct {
	Name           string     `json:"name" validate:"required,min=1,max=200"`
	Subject        string     `json:"subject"`
	HTMLContent    string     `json:"html_content"`
	SenderName     string     `json:"sender_name"`
	Description    string     `json:"description"`
	EmailAccountID *uint      `json:"email_account_id"`
	ContactListIDs []uint     `json:"contact_list_ids"`
	DailySendLimit int        `json:"daily_send_limit"`
	ScheduledAt    *time.Time `json:"scheduled_at"`
	TrackOpens     *bool      `json:"track_opens"`
	TrackClicks    *bool      `json:"track_clicks"`
}

func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	check, err := cc.Usage.CanPerformAction(user.ID, utils.ActionCreateCampaign)
	if err != nil {
		cc.Logger.Errorf("usage check failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to verify usage limits",
		})
	}
	if !check.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(check)
	}

	var input campaignInput
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

	dailyLimit := input.DailySendLimit
	if dailyLimit <= 0 {
		dailyLimit = 5
	}

	campaign := models.Campaign{
		UserID:         user.ID,
		Name:           input.Name,
		Subject:        input.Subject,
		HTMLContent:    input.HTMLContent,
		SenderName:     input.SenderName,
		Description:    input.Description,
		EmailAccountID: input.EmailAccountID,
		DailySendLimit: dailyLimit,
		ScheduledAt:    input.ScheduledAt,
		Status:         "draft",
		TrackOpens:     true,
		TrackClicks:    true,
	}
	if input.TrackOpens != nil {
		campaign.TrackOpens = *input.TrackOpens
	}
	if input.TrackClicks != nil {
		campaign.TrackClicks = *input.TrackClicks
	}

	tx := cc.DB.Begin()
	if err := tx.Create(&campaign).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	for _, listID := range input.ContactListIDs {
		var list models.ContactList
		if err := tx.Where("id = ? AND user_id = ?", listID, user.ID).First(&list).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Contact list not found",
			})
		}
		if err := tx.Create(&models.CampaignContactList{
			CampaignID:    campaign.ID,
			ContactListID: listID,
		}).Error; err != nil {
			tx.Rollback()
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to attach contact list",
			})
		}
	}

	total, err := campaignContactCount(tx, campaign.ID)
	if err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count contacts",
		})
	}
	if err := tx.Model(&campaign).Update("total_contacts", total).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update campaign",
		})
	}

	if err := tx.Commit().Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	if err := cc.Usage.UpdateUsage(user.ID, utils.ActionCreateCampaign, 1); err != nil {
		cc.Logger.Warnf("usage update failed for user %d: %v", user.ID, err)
	}

	campaign.TotalContacts = int(total)
	return c.Status(fiber.StatusCreated).JSON(campaign)
}

func (cc *CampaignController) GetCampaigns(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var campaigns []models.Campaign
	if err := cc.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Find(&campaigns).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch campaigns",
		})
	}
	return c.JSON(campaigns)
}

func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.findCampaign(c.Params("id"), user.ID)
	if err != nil {
		return campaignNotFound(c, err)
	}

	// Legacy rows store the description inside a JSON envelope.
	envelope := utils.DecodeCampaignEnvelope(campaign.Description)
	response := fiber.Map{
		"campaign":    campaign,
		"description": envelope.Description,
	}
	if campaign.SenderName == "" && envelope.SenderName != "" {
		response["sender_name"] = envelope.SenderName
	}
	return c.JSON(response)
}

func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.findCampaign(c.Params("id"), user.ID)
	if err != nil {
		return campaignNotFound(c, err)
	}
	if campaign.Status != "draft" && campaign.Status != "paused" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Only draft or paused campaigns can be edited",
		})
	}

	var input campaignInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updates := map[string]interface{}{}
	if input.Name != "" {
		updates["name"] = input.Name
	}
	if input.Subject != "" {
		updates["subject"] = input.Subject
	}
	if input.HTMLContent != "" {
		updates["html_content"] = input.HTMLContent
	}
	if input.SenderName != "" {
		updates["sender_name"] = input.SenderName
	}
	if input.Description != "" {
		updates["description"] = input.Description
	}
	if input.EmailAccountID != nil {
		updates["email_account_id"] = *input.EmailAccountID
	}
	if input.DailySendLimit > 0 {
		updates["daily_send_limit"] = input.DailySendLimit
	}
	if input.ScheduledAt != nil {
		updates["scheduled_at"] = *input.ScheduledAt
	}
	if input.TrackOpens != nil {
		updates["track_opens"] = *input.TrackOpens
	}
	if input.TrackClicks != nil {
		updates["track_clicks"] = *input.TrackClicks
	}

	if len(updates) > 0 {
		if err := cc.DB.Model(campaign).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update campaign",
			})
		}
	}
	return c.JSON(campaign)
}

func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.findCampaign(c.Params("id"), user.ID)
	if err != nil {
		return campaignNotFound(c, err)
	}
	if campaign.Status == "sending" || campaign.Status == "running" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Pause the campaign before deleting it",
		})
	}

	if err := cc.DB.Delete(campaign).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete campaign",
		})
	}
	return c.JSON(fiber.Map{"message": "Campaign deleted"})
}

// StartCampaign moves a draft or paused campaign into the worker's queue.
// With a future scheduled_at it becomes scheduled, otherwise sending.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.findCampaign(c.Params("id"), user.ID)
	if err != nil {
		return campaignNotFound(c, err)
	}
	if campaign.Status != "draft" && campaign.Status != "paused" && campaign.Status != "scheduled" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Campaign cannot be started from status " + campaign.Status,
		})
	}

	check, err := cc.Usage.CanPerformAction(user.ID, utils.ActionSendEmail)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to verify usage limits",
		})
	}
	if !check.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(check)
	}

	total, err := campaignContactCount(cc.DB, campaign.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count contacts",
		})
	}
	if total == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign has no contacts",
		})
	}

	var hasContent bool
	if campaign.HTMLContent != "" {
		hasContent = true
	} else {
		var steps int64
		cc.DB.Model(&models.CampaignStep{}).
			Where("campaign_id = ? AND is_active = ?", campaign.ID, true).
			Count(&steps)
		hasContent = steps > 0
	}
	if !hasContent {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Campaign has no content",
		})
	}

	status := "sending"
	if campaign.ScheduledAt != nil && campaign.ScheduledAt.After(time.Now()) {
		status = "scheduled"
	}

	if err := cc.DB.Model(campaign).Updates(map[string]interface{}{
		"status":         status,
		"total_contacts": total,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start campaign",
		})
	}

	cc.Logger.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"status":      status,
		"contacts":    total,
	}).Info("campaign started")

	return c.JSON(fiber.Map{
		"message": "Campaign started",
		"status":  status,
	})
}

func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.findCampaign(c.Params("id"), user.ID)
	if err != nil {
		return campaignNotFound(c, err)
	}
	if campaign.Status != "sending" && campaign.Status != "running" && campaign.Status != "scheduled" {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Campaign is not running",
		})
	}

	if err := cc.DB.Model(campaign).Update("status", "paused").Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to pause campaign",
		})
	}
	return c.JSON(fiber.Map{"message": "Campaign paused"})
}

// GetCampaignStats reports delivery counters straight from the tracking
// table so the dashboard survives stale denormalized columns.
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	campaign, err := cc.findCampaign(c.Params("id"), user.ID)
	if err != nil {
		return campaignNotFound(c, err)
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	cc.DB.Model(&models.EmailTracking{}).
		Select("status, COUNT(*) as count").
		Where("campaign_id = ?", campaign.ID).
		Group("status").
		Scan(&counts)

	stats := fiber.Map{
		"total_contacts": campaign.TotalContacts,
		"pending":        int64(0),
		"delivered":      int64(0),
		"failed":         int64(0),
		"open_count":     campaign.OpenCount,
		"click_count":    campaign.ClickCount,
		"current_batch":  campaign.CurrentBatchNumber,
		"next_batch_at":  campaign.NextBatchSendTime,
		"status":         campaign.Status,
	}
	for _, sc := range counts {
		stats[sc.Status] = sc.Count
	}
	return c.JSON(stats)
}

func (cc *CampaignController) findCampaign(id string, userID uint) (*models.Campaign, error) {
	var campaign models.Campaign
	err := cc.DB.Where("id = ? AND user_id = ?", id, userID).First(&campaign).Error
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func campaignNotFound(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Failed to fetch campaign",
	})
}

func campaignContactCount(db *gorm.DB, campaignID uint) (int64, error) {
	var total int64
	err := db.Model(&models.Contact{}).
		Distinct("contacts.id").
		Joins("JOIN contact_list_memberships clm ON clm.contact_id = contacts.id AND clm.deleted_at IS NULL").
		Joins("JOIN campaign_contact_lists ccl ON ccl.contact_list_id = clm.contact_list_id AND ccl.deleted_at IS NULL").
		Where("ccl.campaign_id = ?", campaignID).
		Where("contacts.is_unsubscribed = ? AND contacts.is_bounced = ? AND contacts.is_do_not_contact = ?", false, false, false).
		Count(&total).Error
	return total, err
}
