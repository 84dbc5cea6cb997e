package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"sendloop/models"
	"sendloop/utils"
	"sendloop/worker"
)

// CampaignController handles campaign CRUD and hands execution control
// to the dispatch engine.
type CampaignController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Engine *worker.Registry
}

func NewCampaignController(db *gorm.DB, logger *logrus.Logger, engine *worker.Registry) *CampaignController {
	return &CampaignController{
		DB:     db,
		Logger: logger,
		Engine: engine,
	}
}

type MessageVariantRequest struct {
	Body     string `json:"body" validate:"required,min=1,max=4096"`
	MediaURL string `json:"media_url" validate:"omitempty,url"`
}

type CreateCampaignRequest struct {
	Name               string                  `json:"name" validate:"required,max=200"`
	Description        string                  `json:"description" validate:"omitempty,max=2000"`
	MinIntervalSeconds int                     `json:"min_interval_seconds" validate:"gte=1"`
	MaxIntervalSeconds int                     `json:"max_interval_seconds" validate:"gte=1"`
	MessageOrder       string                  `json:"message_order" validate:"omitempty,oneof=round_robin random"`
	Messages           []MessageVariantRequest `json:"messages" validate:"required,min=1,dive"`
	SenderIDs          []uint                  `json:"sender_ids" validate:"required,min=1"`
	ContactListIDs     []uint                  `json:"contact_list_ids" validate:"required,min=1"`
}

type UpdateCampaignRequest struct {
	Name               *string                  `json:"name" validate:"omitempty,max=200"`
	Description        *string                  `json:"description" validate:"omitempty,max=2000"`
	MinIntervalSeconds *int                     `json:"min_interval_seconds" validate:"omitempty,gte=1"`
	MaxIntervalSeconds *int                     `json:"max_interval_seconds" validate:"omitempty,gte=1"`
	MessageOrder       *string                  `json:"message_order" validate:"omitempty,oneof=round_robin random"`
	Messages           *[]MessageVariantRequest `json:"messages" validate:"omitempty,min=1,dive"`
	SenderIDs          *[]uint                  `json:"sender_ids" validate:"omitempty,min=1"`
	ContactListIDs     *[]uint                  `json:"contact_list_ids" validate:"omitempty,min=1"`
}

// CreateCampaign builds a draft campaign with its message variants,
// sender bindings and contact list targets in one transaction.
func (cc *CampaignController) CreateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateCampaignRequest
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
	if req.MinIntervalSeconds > req.MaxIntervalSeconds {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "min_interval_seconds must not exceed max_interval_seconds",
		})
	}

	// Verify the referenced senders and lists belong to this user.
	var senderCount int64
	if err := cc.DB.Model(&models.Sender{}).
		Where("id IN ? AND user_id = ?", req.SenderIDs, user.ID).
		Count(&senderCount).Error; err != nil || senderCount != int64(len(req.SenderIDs)) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "One or more senders not found",
		})
	}
	var listCount int64
	if err := cc.DB.Model(&models.ContactList{}).
		Where("id IN ? AND user_id = ?", req.ContactListIDs, user.ID).
		Count(&listCount).Error; err != nil || listCount != int64(len(req.ContactListIDs)) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "One or more contact lists not found",
		})
	}

	messageOrder := req.MessageOrder
	if messageOrder == "" {
		messageOrder = models.MessageOrderRoundRobin
	}

	campaign := models.Campaign{
		UserID:             user.ID,
		Name:               req.Name,
		Description:        req.Description,
		MinIntervalSeconds: req.MinIntervalSeconds,
		MaxIntervalSeconds: req.MaxIntervalSeconds,
		MessageOrder:       messageOrder,
		Status:             models.CampaignStatusDraft,
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&campaign).Error; err != nil {
			return err
		}
		for i, m := range req.Messages {
			if err := tx.Create(&models.CampaignMessage{
				CampaignID: campaign.ID,
				Body:       m.Body,
				MediaURL:   m.MediaURL,
				Position:   i,
			}).Error; err != nil {
				return err
			}
		}
		for _, senderID := range req.SenderIDs {
			if err := tx.Create(&models.CampaignSender{
				CampaignID: campaign.ID,
				SenderID:   senderID,
			}).Error; err != nil {
				return err
			}
		}
		for _, listID := range req.ContactListIDs {
			if err := tx.Create(&models.CampaignContactList{
				CampaignID: campaign.ID,
				ContactListID: listID,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cc.Logger.WithError(err).Error("failed to create campaign")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create campaign",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(campaign))
}

// ListCampaigns returns the user's campaigns, newest first, paginated.
func (cc *CampaignController) ListCampaigns(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := cc.DB.Model(&models.Campaign{}).Where("user_id = ?", user.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count campaigns",
		})
	}

	var campaigns []models.Campaign
	if err := query.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&campaigns).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch campaigns",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  campaigns,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (cc *CampaignController) GetCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var campaign models.Campaign
	if err := cc.DB.
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Senders.Sender").
		Preload("ContactLists").
		Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	return c.JSON(utils.SuccessResponse(campaign))
}

// UpdateCampaign edits a campaign's configuration. Only draft, scheduled
// and paused campaigns can be edited; pacing changes on a paused
// campaign take effect on resume.
func (cc *CampaignController) UpdateCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	switch campaign.Status {
	case models.CampaignStatusDraft, models.CampaignStatusScheduled, models.CampaignStatusPaused:
	default:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Only draft, scheduled or paused campaigns can be edited",
		})
	}

	var req UpdateCampaignRequest
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

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.MinIntervalSeconds != nil {
		updates["min_interval_seconds"] = *req.MinIntervalSeconds
	}
	if req.MaxIntervalSeconds != nil {
		updates["max_interval_seconds"] = *req.MaxIntervalSeconds
	}
	if req.MessageOrder != nil {
		updates["message_order"] = *req.MessageOrder
	}

	newMin := campaign.MinIntervalSeconds
	newMax := campaign.MaxIntervalSeconds
	if req.MinIntervalSeconds != nil {
		newMin = *req.MinIntervalSeconds
	}
	if req.MaxIntervalSeconds != nil {
		newMax = *req.MaxIntervalSeconds
	}
	if newMin > newMax {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "min_interval_seconds must not exceed max_interval_seconds",
		})
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&campaign).Updates(updates).Error; err != nil {
				return err
			}
		}
		if req.Messages != nil {
			if err := tx.Where("campaign_id = ?", campaign.ID).
				Delete(&models.CampaignMessage{}).Error; err != nil {
				return err
			}
			for i, m := range *req.Messages {
				if err := tx.Create(&models.CampaignMessage{
					CampaignID: campaign.ID,
					Body:       m.Body,
					MediaURL:   m.MediaURL,
					Position:   i,
				}).Error; err != nil {
					return err
				}
			}
		}
		if req.SenderIDs != nil {
			if err := tx.Where("campaign_id = ?", campaign.ID).
				Delete(&models.CampaignSender{}).Error; err != nil {
				return err
			}
			for _, senderID := range *req.SenderIDs {
				if err := tx.Create(&models.CampaignSender{
					CampaignID: campaign.ID,
					SenderID:   senderID,
				}).Error; err != nil {
					return err
				}
			}
		}
		if req.ContactListIDs != nil {
			if err := tx.Where("campaign_id = ?", campaign.ID).
				Delete(&models.CampaignContactList{}).Error; err != nil {
				return err
			}
			for _, listID := range *req.ContactListIDs {
				if err := tx.Create(&models.CampaignContactList{
					CampaignID:    campaign.ID,
					ContactListID: listID,
				}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		cc.Logger.WithError(err).Error("failed to update campaign")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update campaign",
		})
	}

	return cc.GetCampaign(c)
}

// DeleteCampaign removes a campaign that is not actively dispatching.
func (cc *CampaignController) DeleteCampaign(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&campaign).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	if campaign.Status == models.CampaignStatusRunning || cc.Engine.IsDispatching(campaign.ID) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Cancel the campaign before deleting it",
		})
	}

	err := cc.DB.Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{
			&models.CampaignMessage{},
			&models.CampaignSender{},
			&models.CampaignContactList{},
		} {
			if err := tx.Where("campaign_id = ?", campaign.ID).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&campaign).Error
	})
	if err != nil {
		cc.Logger.WithError(err).Error("failed to delete campaign")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete campaign",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Campaign deleted successfully",
	})
}
