package controller

import (
	"errors"
	"time"

	"reachly/models"
	"reachly/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

type AccountController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Usage  *utils.UsageTracker
}

func NewAccountController(db *gorm.DB, usage *utils.UsageTracker, logger *logrus.Logger) *AccountController {
	return &AccountController{DB: db, Logger: logger, Usage: usage}
}

type accountInput struct {
	Name      string `json:"name" validate:"required"`
	FromEmail string `json:"from_email" validate:"required,email"`
	FromName  string `json:"from_name" validate:"required"`

	ProviderType string `json:"provider_type"`

	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
	Encryption   string `json:"encryption"`

	IMAPHost     string `json:"imap_host"`
	IMAPPort     int    `json:"imap_port"`
	IMAPUsername string `json:"imap_username"`
	IMAPPassword string `json:"imap_password"`
	IMAPMailbox  string `json:"imap_mailbox"`

	DailyLimit int `json:"daily_limit"`
}

func (ac *AccountController) CreateAccount(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	plan, err := ac.Usage.PlanFor(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve plan",
		})
	}
	if plan.MaxEmailAccounts != -1 {
		var count int64
		ac.DB.Model(&models.EmailAccount{}).Where("user_id = ?", user.ID).Count(&count)
		if count >= int64(plan.MaxEmailAccounts) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Email account limit reached for your plan",
			})
		}
	}

	var input accountInput
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

	providerType := input.ProviderType
	if providerType == "" {
		providerType = "smtp"
	}
	if providerType == "smtp" && (input.SMTPHost == "" || input.SMTPPort == 0) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "SMTP host and port are required",
		})
	}

	account := models.EmailAccount{
		UserID:       user.ID,
		Name:         input.Name,
		FromEmail:    input.FromEmail,
		FromName:     input.FromName,
		ProviderType: providerType,
		SMTPHost:     input.SMTPHost,
		SMTPPort:     input.SMTPPort,
		SMTPUsername: input.SMTPUsername,
		SMTPPassword: input.SMTPPassword,
		IMAPHost:     input.IMAPHost,
		IMAPUsername: input.IMAPUsername,
		IMAPPassword: input.IMAPPassword,
	}
	if input.Encryption != "" {
		account.Encryption = input.Encryption
	}
	if input.IMAPPort > 0 {
		account.IMAPPort = input.IMAPPort
	}
	if input.IMAPMailbox != "" {
		account.IMAPMailbox = input.IMAPMailbox
	}
	if input.DailyLimit > 0 {
		account.DailyLimit = input.DailyLimit
	}

	if err := ac.DB.Create(&account).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create email account",
		})
	}

	account.Sanitize()
	return c.Status(fiber.StatusCreated).JSON(account)
}

func (ac *AccountController) GetAccounts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var accounts []models.EmailAccount
	if err := ac.DB.Where("user_id = ?", user.ID).Find(&accounts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch email accounts",
		})
	}
	for i := range accounts {
		accounts[i].Sanitize()
	}
	return c.JSON(accounts)
}

func (ac *AccountController) UpdateAccount(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var account models.EmailAccount
	err := ac.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Email account not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch email account",
		})
	}

	var input accountInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updates := map[string]interface{}{}
	if input.Name != "" {
		updates["name"] = input.Name
	}
	if input.FromEmail != "" {
		updates["from_email"] = input.FromEmail
	}
	if input.FromName != "" {
		updates["from_name"] = input.FromName
	}
	if input.SMTPHost != "" {
		updates["smtp_host"] = input.SMTPHost
	}
	if input.SMTPPort > 0 {
		updates["smtp_port"] = input.SMTPPort
	}
	if input.SMTPUsername != "" {
		updates["smtp_username"] = input.SMTPUsername
	}
	if input.SMTPPassword != "" {
		updates["smtp_password"] = input.SMTPPassword
	}
	if input.IMAPHost != "" {
		updates["imap_host"] = input.IMAPHost
	}
	if input.IMAPPort > 0 {
		updates["imap_port"] = input.IMAPPort
	}
	if input.IMAPUsername != "" {
		updates["imap_username"] = input.IMAPUsername
	}
	if input.IMAPPassword != "" {
		updates["imap_password"] = input.IMAPPassword
	}
	if input.DailyLimit > 0 {
		updates["daily_limit"] = input.DailyLimit
	}

	if len(updates) > 0 {
		if err := ac.DB.Model(&account).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update email account",
			})
		}
	}

	account.Sanitize()
	return c.JSON(account)
}

func (ac *AccountController) DeleteAccount(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var inUse int64
	ac.DB.Model(&models.Campaign{}).
		Where("email_account_id = ? AND user_id = ? AND status IN ?",
			c.Params("id"), user.ID, []string{"sending", "running", "scheduled"}).
		Count(&inUse)
	if inUse > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Account is used by an active campaign",
		})
	}

	result := ac.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Delete(&models.EmailAccount{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete email account",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Email account not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Email account deleted"})
}

// TestAccount dials the SMTP server with the stored credentials and records
// the outcome on the account.
func (ac *AccountController) TestAccount(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var account models.EmailAccount
	if err := ac.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&account).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Email account not found",
		})
	}

	dialer := gomail.NewDialer(account.SMTPHost, account.SMTPPort, account.SMTPUsername, account.SMTPPassword)
	closer, err := dialer.Dial()
	now := time.Now()
	if err != nil {
		msg := err.Error()
		ac.DB.Model(&account).Updates(map[string]interface{}{
			"last_tested_at": now,
			"last_error":     msg,
		})
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"error":   msg,
		})
	}
	defer closer.Close()

	ac.DB.Model(&account).Updates(map[string]interface{}{
		"last_tested_at": now,
		"last_error":     nil,
	})
	return c.JSON(fiber.Map{"success": true})
}
