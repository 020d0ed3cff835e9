package controller

import (
	"time"

	"reachly/models"
	"reachly/utils"
	"reachly/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CronController exposes the worker entry points over HTTP for serverless
// deployments, where an external scheduler replaces the in-process tickers.
type CronController struct {
	DB         *gorm.DB
	Logger     *logrus.Logger
	Processor  *worker.CampaignProcessor
	Enrichment *utils.BulkContactEnrichmentService
}

func NewCronController(db *gorm.DB, processor *worker.CampaignProcessor, enrichment *utils.BulkContactEnrichmentService, logger *logrus.Logger) *CronController {
	return &CronController{DB: db, Logger: logger, Processor: processor, Enrichment: enrichment}
}

// ProcessCampaigns runs one poll tick and reports per-campaign outcomes.
func (cr *CronController) ProcessCampaigns(c *fiber.Ctx) error {
	summary := cr.Processor.ProcessReadyCampaigns()

	return c.JSON(fiber.Map{
		"success":    true,
		"processed":  summary.Processed,
		"successful": summary.Successful,
		"errors":     summary.Errors,
		"results":    summary.Results,
	})
}

// RedriveEnrichmentJobs picks up jobs whose self-chaining continuation was
// lost (process restart, dropped HTTP call) and kicks their next batch.
func (cr *CronController) RedriveEnrichmentJobs(c *fiber.Ctx) error {
	stalledBefore := time.Now().Add(-5 * time.Minute)

	var jobs []models.BulkEnrichmentJob
	if err := cr.DB.Where("status IN ? AND updated_at < ?", []string{"pending", "running"}, stalledBefore).
		Find(&jobs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load stalled jobs",
		})
	}

	for _, job := range jobs {
		jobID := job.ID
		go func() {
			if err := cr.Enrichment.ProcessNextBatch(jobID); err != nil {
				cr.Logger.WithField("job_id", jobID).Errorf("redrive failed: %v", err)
			}
		}()
	}

	if len(jobs) > 0 {
		cr.Logger.WithFields(logrus.Fields{"count": len(jobs)}).Info("redriving stalled enrichment jobs")
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"redriven": len(jobs),
	})
}
