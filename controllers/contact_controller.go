package controller

import (
	"errors"
	"strings"

	"reachly/models"
	"reachly/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ContactController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Usage  *utils.UsageTracker
}

func NewContactController(db *gorm.DB, usage *utils.UsageTracker, logger *logrus.Logger) *ContactController {
	return &ContactController{DB: db, Logger: logger, Usage: usage}
}

type contactInput struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email" validate:"required,email"`
	Company     string `json:"company"`
	Title       string `json:"title"`
	Website     string `json:"website"`
	LinkedInURL string `json:"linkedin_url"`
	ListIDs     []uint `json:"list_ids"`
}

func (cc *ContactController) CreateContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	check, err := cc.Usage.CanPerformAction(user.ID, utils.ActionAddContact)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to verify usage limits",
		})
	}
	if !check.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(check)
	}

	var input contactInput
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

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if err := checkmail.ValidateFormat(email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	var existing models.Contact
	err = cc.DB.Where("user_id = ? AND email = ?", user.ID, email).First(&existing).Error
	if err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "Contact already exists",
			"contact": existing,
		})
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check for existing contact",
		})
	}

	contact := models.Contact{
		UserID:      user.ID,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Email:       email,
		Company:     input.Company,
		Title:       input.Title,
		Website:     input.Website,
		LinkedInURL: input.LinkedInURL,
	}

	tx := cc.DB.Begin()
	if err := tx.Create(&contact).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create contact",
		})
	}
	if err := addToLists(tx, &contact, input.ListIDs, user.ID); err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := tx.Commit().Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create contact",
		})
	}

	if err := cc.Usage.UpdateUsage(user.ID, utils.ActionAddContact, 1); err != nil {
		cc.Logger.Warnf("usage update failed for user %d: %v", user.ID, err)
	}

	return c.Status(fiber.StatusCreated).JSON(contact)
}

func (cc *ContactController) GetContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := cc.DB.Where("user_id = ?", user.ID)
	if listID := c.Query("list_id"); listID != "" {
		query = query.
			Joins("JOIN contact_list_memberships clm ON clm.contact_id = contacts.id AND clm.deleted_at IS NULL").
			Where("clm.contact_list_id = ?", listID)
	}
	if search := c.Query("search"); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(company) LIKE ?",
			like, like, like, like)
	}

	limit := c.QueryInt("limit", 50)
	if limit > 200 {
		limit = 200
	}
	offset := c.QueryInt("offset", 0)

	var contacts []models.Contact
	if err := query.Order("contacts.created_at DESC").
		Limit(limit).Offset(offset).
		Find(&contacts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch contacts",
		})
	}
	return c.JSON(contacts)
}

func (cc *ContactController) GetContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var contact models.Contact
	err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Preload("Memberships").
		First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch contact",
		})
	}
	return c.JSON(contact)
}

func (cc *ContactController) UpdateContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&contact).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}

	var input contactInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	updates := map[string]interface{}{}
	if input.FirstName != "" {
		updates["first_name"] = input.FirstName
	}
	if input.LastName != "" {
		updates["last_name"] = input.LastName
	}
	if input.Company != "" {
		updates["company"] = input.Company
	}
	if input.Title != "" {
		updates["title"] = input.Title
	}
	if input.Website != "" {
		updates["website"] = input.Website
	}
	if input.LinkedInURL != "" {
		updates["linkedin_url"] = input.LinkedInURL
	}
	if input.Email != "" {
		email := strings.ToLower(strings.TrimSpace(input.Email))
		if err := checkmail.ValidateFormat(email); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid email address",
			})
		}
		updates["email"] = email
	}

	if len(updates) > 0 {
		if err := cc.DB.Model(&contact).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update contact",
			})
		}
	}
	return c.JSON(contact)
}

func (cc *ContactController) DeleteContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	result := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Delete(&models.Contact{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete contact",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Contact deleted"})
}

// UnsubscribeContact sets the suppression flag; the worker excludes the
// contact from every future batch.
func (cc *ContactController) UnsubscribeContact(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	result := cc.DB.Model(&models.Contact{}).
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Update("is_unsubscribed", true)
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to unsubscribe contact",
		})
	}
	if result.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact not found",
		})
	}
	return c.JSON(fiber.Map{"message": "Contact unsubscribed"})
}

// ===== Contact lists =====

func (cc *ContactController) CreateList(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input struct {
		Name        string `json:"name" validate:"required,min=1,max=200"`
		Description string `json:"description"`
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

	list := models.ContactList{
		UserID:      user.ID,
		Name:        input.Name,
		Description: input.Description,
	}
	if err := cc.DB.Create(&list).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create list",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(list)
}

func (cc *ContactController) GetLists(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var lists []models.ContactList
	if err := cc.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Find(&lists).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch lists",
		})
	}
	return c.JSON(lists)
}

func (cc *ContactController) DeleteList(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var list models.ContactList
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&list).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "List not found",
		})
	}

	tx := cc.DB.Begin()
	if err := tx.Where("contact_list_id = ?", list.ID).Delete(&models.ContactListMembership{}).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete list",
		})
	}
	if err := tx.Delete(&list).Error; err != nil {
		tx.Rollback()
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete list",
		})
	}
	if err := tx.Commit().Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete list",
		})
	}
	return c.JSON(fiber.Map{"message": "List deleted"})
}

// AddContactsToList attaches existing contacts, silently skipping ones that
// are already members.
func (cc *ContactController) AddContactsToList(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var list models.ContactList
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&list).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "List not found",
		})
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

	added := 0
	for _, contactID := range input.ContactIDs {
		var contact models.Contact
		if err := cc.DB.Where("id = ? AND user_id = ?", contactID, user.ID).First(&contact).Error; err != nil {
			continue
		}
		var existing int64
		cc.DB.Model(&models.ContactListMembership{}).
			Where("contact_id = ? AND contact_list_id = ?", contactID, list.ID).
			Count(&existing)
		if existing > 0 {
			continue
		}
		if err := cc.DB.Create(&models.ContactListMembership{
			ContactID:     contactID,
			ContactListID: list.ID,
		}).Error; err == nil {
			added++
		}
	}

	if added > 0 {
		cc.DB.Model(&list).Update("contact_count", gorm.Expr("contact_count + ?", added))
	}
	return c.JSON(fiber.Map{"added": added})
}

func (cc *ContactController) RemoveContactFromList(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var list models.ContactList
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).First(&list).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "List not found",
		})
	}

	result := cc.DB.Where("contact_list_id = ? AND contact_id = ?", list.ID, c.Params("contactId")).
		Delete(&models.ContactListMembership{})
	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove contact",
		})
	}
	if result.RowsAffected > 0 {
		cc.DB.Model(&list).Update("contact_count", gorm.Expr("GREATEST(contact_count - ?, 0)", result.RowsAffected))
	}
	return c.JSON(fiber.Map{"message": "Contact removed from list"})
}

func addToLists(tx *gorm.DB, contact *models.Contact, listIDs []uint, userID uint) error {
	for _, listID := range listIDs {
		var list models.ContactList
		if err := tx.Where("id = ? AND user_id = ?", listID, userID).First(&list).Error; err != nil {
			return errors.New("contact list not found")
		}
		if err := tx.Create(&models.ContactListMembership{
			ContactID:     contact.ID,
			ContactListID: listID,
		}).Error; err != nil {
			return errors.New("failed to add contact to list")
		}
		tx.Model(&list).Update("contact_count", gorm.Expr("contact_count + ?", 1))
	}
	return nil
}
