package controller

import (
	"errors"

	"reachly/models"
	"reachly/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type EnrichmentController struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	Usage   *utils.UsageTracker
	Service *utils.BulkContactEnrichmentService
}

func NewEnrichmentController(db *gorm.DB, service *utils.BulkContactEnrichmentService, usage *utils.UsageTracker, logger *logrus.Logger) *EnrichmentController {
	return &EnrichmentController{DB: db, Logger: logger, Usage: usage, Service: service}
}

// CreateBulkEnrichment classifies the requested contacts, creates a job over
// the processable ones and kicks off the first batch asynchronously. When no
// contact is processable the eligibility breakdown is returned instead.
func (ec *EnrichmentController) CreateBulkEnrichment(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	check, err := ec.Usage.CanPerformAction(user.ID, utils.ActionEnrichContact)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to verify usage limits",
		})
	}
	if !check.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(check)
	}

	var input struct {
		ContactIDs []uint `json:"contact_ids" validate:"required,min=1"`
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

	job, summary, err := ec.Service.CreateJob(user.ID, input.ContactIDs)
	if err != nil {
		ec.Logger.Errorf("failed to create enrichment job: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create enrichment job",
		})
	}
	if job == nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":       "No contacts can be enriched",
			"eligibility": summary,
		})
	}

	go func() {
		if err := ec.Service.ProcessNextBatch(job.ID); err != nil {
			ec.Logger.WithField("job_id", job.ID).Errorf("first batch failed: %v", err)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":      job.ID,
		"total":       job.Progress.Total,
		"eligibility": summary,
	})
}

// ProcessBulkEnrichment is the continuation endpoint: each invocation runs
// one batch and either re-triggers itself or completes the job. It is also
// hit by the cron re-drive for stalled jobs.
func (ec *EnrichmentController) ProcessBulkEnrichment(c *fiber.Ctx) error {
	var input struct {
		JobID uint `json:"job_id" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil || input.JobID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "job_id is required",
		})
	}

	if err := ec.Service.ProcessNextBatch(input.JobID); err != nil {
		ec.Logger.WithField("job_id", input.JobID).Errorf("batch processing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Batch processing failed",
		})
	}

	var job models.BulkEnrichmentJob
	if err := ec.DB.First(&job, input.JobID).Error; err != nil {
		return c.JSON(fiber.Map{"success": true, "job_id": input.JobID})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"job_id":   job.ID,
		"status":   job.Status,
		"progress": job.Progress,
	})
}

func (ec *EnrichmentController) GetJobStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var job models.BulkEnrichmentJob
	err := ec.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch job",
		})
	}
	return c.JSON(job)
}

func (ec *EnrichmentController) GetJobs(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var jobs []models.BulkEnrichmentJob
	if err := ec.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Limit(50).
		Find(&jobs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch jobs",
		})
	}
	return c.JSON(jobs)
}

// CancelJob flags the job for cancellation; the current batch finishes first.
func (ec *EnrichmentController) CancelJob(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	jobID, err := c.ParamsInt("id")
	if err != nil || jobID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid job id",
		})
	}

	if err := ec.Service.Cancel(user.ID, uint(jobID)); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"message": "Job cancelled"})
}
