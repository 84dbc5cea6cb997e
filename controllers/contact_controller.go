package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"sendloop/models"
	"sendloop/repository"
	"sendloop/utils"
)

// ContactController manages contact lists, contacts and the blacklist.
type ContactController struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Blacklist repository.BlacklistRepository
}

func NewContactController(db *gorm.DB, logger *logrus.Logger, blacklist repository.BlacklistRepository) *ContactController {
	return &ContactController{
		DB:        db,
		Logger:    logger,
		Blacklist: blacklist,
	}
}

type CreateContactListRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"omitempty,max=2000"`
}

type ImportContactRequest struct {
	PhoneNumber string            `json:"phone_number" validate:"required"`
	Name        string            `json:"name" validate:"omitempty,max=200"`
	Extra       map[string]string `json:"extra"`
}

type ImportContactsRequest struct {
	Contacts []ImportContactRequest `json:"contacts" validate:"required,min=1,dive"`
}

type AddBlacklistRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	Reason      string `json:"reason" validate:"omitempty,max=500"`
}

func (ct *ContactController) CreateContactList(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateContactListRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	list := models.ContactList{
		UserID:      user.ID,
		Name:        req.Name,
		Description: req.Description,
		Source:      "api",
	}
	if err := ct.DB.Create(&list).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create contact list",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(list))
}

func (ct *ContactController) ListContactLists(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var lists []models.ContactList
	if err := ct.DB.Where("user_id = ?", user.ID).
		Order("created_at DESC").
		Find(&lists).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch contact lists",
		})
	}

	return c.JSON(utils.SuccessResponse(lists))
}

// ImportContacts bulk-adds contacts to a list. Numbers that are not
// valid E.164 or already exist in the list are skipped and reported, not
// fatal.
func (ct *ContactController) ImportContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var list models.ContactList
	if err := ct.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&list).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact list not found",
		})
	}

	var req ImportContactsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var existing []string
	if err := ct.DB.Model(&models.Contact{}).
		Where("contact_list_id = ?", list.ID).
		Pluck("phone_number", &existing).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read existing contacts",
		})
	}
	seen := make(map[string]bool, len(existing))
	for _, phone := range existing {
		seen[phone] = true
	}

	imported := 0
	var skipped []string
	err := ct.DB.Transaction(func(tx *gorm.DB) error {
		for _, in := range req.Contacts {
			if !utils.IsValidPhone(in.PhoneNumber) || seen[in.PhoneNumber] {
				skipped = append(skipped, in.PhoneNumber)
				continue
			}
			seen[in.PhoneNumber] = true
			if err := tx.Create(&models.Contact{
				ContactListID: list.ID,
				PhoneNumber:   in.PhoneNumber,
				Name:          in.Name,
				Extra:         in.Extra,
			}).Error; err != nil {
				return err
			}
			imported++
		}
		if imported > 0 {
			return tx.Model(&list).
				Update("contact_count", gorm.Expr("contact_count + ?", imported)).Error
		}
		return nil
	})
	if err != nil {
		ct.Logger.WithError(err).Error("failed to import contacts")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to import contacts",
		})
	}

	return c.JSON(fiber.Map{
		"imported": imported,
		"skipped":  skipped,
	})
}

func (ct *ContactController) ListContacts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var list models.ContactList
	if err := ct.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&list).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact list not found",
		})
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}

	var total int64
	if err := ct.DB.Model(&models.Contact{}).
		Where("contact_list_id = ?", list.ID).
		Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count contacts",
		})
	}

	var contacts []models.Contact
	if err := ct.DB.Where("contact_list_id = ?", list.ID).
		Order("id ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&contacts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch contacts",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  contacts,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (ct *ContactController) DeleteContactList(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var list models.ContactList
	if err := ct.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&list).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Contact list not found",
		})
	}

	var bound int64
	if err := ct.DB.Model(&models.CampaignContactList{}).
		Where("contact_list_id = ?", list.ID).
		Count(&bound).Error; err == nil && bound > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Contact list is used by a campaign",
		})
	}

	err := ct.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("contact_list_id = ?", list.ID).
			Delete(&models.Contact{}).Error; err != nil {
			return err
		}
		return tx.Delete(&list).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete contact list",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Contact list deleted successfully",
	})
}

// AddToBlacklist suppresses a number for all of the user's campaigns.
// Adding the same number twice is a no-op.
func (ct *ContactController) AddToBlacklist(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req AddBlacklistRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if !utils.IsValidPhone(req.PhoneNumber) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "phone_number must be an E.164 phone number",
		})
	}

	if err := ct.Blacklist.Add(c.Context(), &models.BlacklistEntry{
		PhoneNumber: req.PhoneNumber,
		UserID:      &user.ID,
		Reason:      req.Reason,
		Source:      models.BlacklistSourceUser,
	}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to add to blacklist",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Number blacklisted",
	})
}

func (ct *ContactController) ListBlacklist(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var entries []models.BlacklistEntry
	if err := ct.DB.Where("user_id = ? OR user_id IS NULL", user.ID).
		Order("created_at DESC").
		Find(&entries).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch blacklist",
		})
	}

	return c.JSON(utils.SuccessResponse(entries))
}

func (ct *ContactController) RemoveFromBlacklist(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	res := ct.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		Delete(&models.BlacklistEntry{})
	if res.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove blacklist entry",
		})
	}
	if res.RowsAffected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Blacklist entry not found",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Blacklist entry removed",
	})
}
