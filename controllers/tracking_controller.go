package controller

import (
	"time"

	"reachly/models"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// transparentGIF is a 1x1 transparent pixel served from the open endpoint.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type TrackingController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewTrackingController(db *gorm.DB, logger *logrus.Logger) *TrackingController {
	return &TrackingController{DB: db, Logger: logger}
}

// TrackOpen records the first open per tracking record and always returns the
// pixel, so a stale or unknown id never breaks image rendering.
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	trackingID := c.Params("trackingId")
	pixelID := c.Params("pixelId")

	var tracking models.EmailTracking
	err := tc.DB.Where("tracking_id = ? AND pixel_id = ?", trackingID, pixelID).First(&tracking).Error
	if err == nil && tracking.OpenedAt == nil {
		now := time.Now()
		if err := tc.DB.Model(&tracking).Update("opened_at", now).Error; err == nil {
			tc.DB.Model(&models.Campaign{}).Where("id = ?", tracking.CampaignID).
				Update("open_count", gorm.Expr("open_count + ?", 1))
		}
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	return c.Send(transparentGIF)
}

// TrackClick records the first click and redirects to the original URL.
func (tc *TrackingController) TrackClick(c *fiber.Ctx) error {
	trackingID := c.Params("trackingId")
	target := c.Query("url")
	if target == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Missing target url",
		})
	}

	var tracking models.EmailTracking
	err := tc.DB.Where("tracking_id = ?", trackingID).First(&tracking).Error
	if err == nil {
		now := time.Now()
		updates := map[string]interface{}{}
		if tracking.ClickedAt == nil {
			updates["clicked_at"] = now
			tc.DB.Model(&models.Campaign{}).Where("id = ?", tracking.CampaignID).
				Update("click_count", gorm.Expr("click_count + ?", 1))
		}
		// A click implies the message was opened even if the pixel was blocked.
		if tracking.OpenedAt == nil {
			updates["opened_at"] = now
			tc.DB.Model(&models.Campaign{}).Where("id = ?", tracking.CampaignID).
				Update("open_count", gorm.Expr("open_count + ?", 1))
		}
		if len(updates) > 0 {
			tc.DB.Model(&tracking).Updates(updates)
		}
	} else {
		tc.Logger.Debugf("click for unknown tracking id %s", trackingID)
	}

	return c.Redirect(target, fiber.StatusFound)
}
