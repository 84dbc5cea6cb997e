package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"sendloop/models"
	"sendloop/utils"
	"sendloop/worker"
)

// SenderController manages the user's outbound sender accounts.
type SenderController struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Conn   worker.SenderConnection
}

func NewSenderController(db *gorm.DB, logger *logrus.Logger, conn worker.SenderConnection) *SenderController {
	return &SenderController{
		DB:     db,
		Logger: logger,
		Conn:   conn,
	}
}

type CreateSenderRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	PhoneNumber string `json:"phone_number" validate:"required,phone"`
	APIToken    string `json:"api_token" validate:"required"`
	SessionID   string `json:"session_id" validate:"omitempty,max=200"`
	DailyLimit  int    `json:"daily_limit" validate:"omitempty,gte=0"`
}

type UpdateSenderRequest struct {
	Name       *string `json:"name" validate:"omitempty,max=200"`
	APIToken   *string `json:"api_token"`
	SessionID  *string `json:"session_id" validate:"omitempty,max=200"`
	DailyLimit *int    `json:"daily_limit" validate:"omitempty,gte=0"`
	IsActive   *bool   `json:"is_active"`
}

func (sc *SenderController) CreateSender(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateSenderRequest
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

	var count int64
	if err := sc.DB.Model(&models.Sender{}).
		Where("user_id = ?", user.ID).
		Count(&count).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count senders",
		})
	}
	if user.MaxSenders > 0 && count >= int64(user.MaxSenders) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Sender limit reached for your plan",
		})
	}

	encryptedToken, err := utils.Encrypt(req.APIToken)
	if err != nil {
		sc.Logger.WithError(err).Error("failed to encrypt sender token")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store credentials",
		})
	}

	sender := models.Sender{
		UserID:      user.ID,
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		APIToken:    encryptedToken,
		SessionID:   req.SessionID,
		IsActive:    true,
		DailyLimit:  req.DailyLimit,
	}
	if err := sc.DB.Create(&sender).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create sender",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sender))
}

func (sc *SenderController) ListSenders(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var senders []models.Sender
	if err := sc.DB.Where("user_id = ?", user.ID).
		Order("created_at ASC").
		Find(&senders).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch senders",
		})
	}

	return c.JSON(utils.SuccessResponse(senders))
}

func (sc *SenderController) GetSender(c *fiber.Ctx) error {
	sender := sc.ownedSender(c)
	if sender == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}
	return c.JSON(utils.SuccessResponse(sender))
}

func (sc *SenderController) UpdateSender(c *fiber.Ctx) error {
	sender := sc.ownedSender(c)
	if sender == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}

	var req UpdateSenderRequest
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
	if req.APIToken != nil {
		encryptedToken, err := utils.Encrypt(*req.APIToken)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to store credentials",
			})
		}
		updates["api_token"] = encryptedToken
	}
	if req.SessionID != nil {
		updates["session_id"] = *req.SessionID
	}
	if req.DailyLimit != nil {
		updates["daily_limit"] = *req.DailyLimit
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		if err := sc.DB.Model(sender).Updates(updates).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to update sender",
			})
		}
	}

	return c.JSON(utils.SuccessResponse(sender))
}

func (sc *SenderController) DeleteSender(c *fiber.Ctx) error {
	sender := sc.ownedSender(c)
	if sender == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}

	var bound int64
	if err := sc.DB.Model(&models.CampaignSender{}).
		Joins("JOIN campaigns ON campaigns.id = campaign_senders.campaign_id").
		Where("campaign_senders.sender_id = ? AND campaigns.status IN ?",
			sender.ID, []string{models.CampaignStatusRunning, models.CampaignStatusPaused, models.CampaignStatusScheduled}).
		Count(&bound).Error; err == nil && bound > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Sender is bound to an active campaign",
		})
	}

	if err := sc.DB.Delete(sender).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete sender",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Sender deleted successfully",
	})
}

// TestSender checks gateway connectivity for the account. Rate limited
// per sender to keep users from hammering the gateway status endpoint.
func (sc *SenderController) TestSender(c *fiber.Ctx) error {
	sender := sc.ownedSender(c)
	if sender == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sender not found",
		})
	}

	connected := sc.Conn.IsConnected(c.Context(), sender.ID)

	now := time.Now()
	updates := map[string]interface{}{
		"last_tested_at": now,
	}
	if connected {
		updates["last_error"] = ""
	} else {
		updates["last_error"] = "gateway session not connected"
	}
	if err := sc.DB.Model(sender).Updates(updates).Error; err != nil {
		sc.Logger.WithError(err).Warn("failed to persist sender test result")
	}

	return c.JSON(fiber.Map{
		"sender_id": sender.ID,
		"connected": connected,
		"tested_at": now,
	})
}

func (sc *SenderController) ownedSender(c *fiber.Ctx) *models.Sender {
	user := c.Locals("user").(*models.User)

	var sender models.Sender
	if err := sc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&sender).Error; err != nil {
		return nil
	}
	return &sender
}
