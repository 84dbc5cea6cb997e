package controller

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"sendloop/config"
	"sendloop/models"
	"sendloop/repository"
	"sendloop/worker"
)

// Gateway receipt types.
const (
	ReceiptDelivered = "message.delivered"
	ReceiptReplied   = "message.replied"
	ReceiptOptOut    = "message.optout"
)

// WebhookController ingests delivery receipts, replies and opt-outs
// posted back by the messaging gateway.
type WebhookController struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Stats     *worker.StatsAggregator
	Blacklist repository.BlacklistRepository
}

func NewWebhookController(db *gorm.DB, logger *logrus.Logger, stats *worker.StatsAggregator, blacklist repository.BlacklistRepository) *WebhookController {
	return &WebhookController{
		DB:        db,
		Logger:    logger,
		Stats:     stats,
		Blacklist: blacklist,
	}
}

type GatewayReceipt struct {
	Type        string     `json:"type"`
	MessageUUID string     `json:"message_uuid"`
	PhoneNumber string     `json:"phone_number"`
	At          *time.Time `json:"at"`
}

// HandleGatewayReceipt processes one receipt. Receipts are retried by
// the gateway on non-2xx, so handlers must be idempotent: replaying a
// reply or opt-out never double-counts.
func (wc *WebhookController) HandleGatewayReceipt(c *fiber.Ctx) error {
	key := c.Get("X-Gateway-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(config.AppConfig.GatewayAPIKey)) != 1 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid gateway key",
		})
	}

	var receipt GatewayReceipt
	if err := c.BodyParser(&receipt); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if receipt.MessageUUID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "message_uuid is required",
		})
	}

	at := time.Now()
	if receipt.At != nil {
		at = *receipt.At
	}

	log := wc.Logger.WithFields(logrus.Fields{
		"type":         receipt.Type,
		"message_uuid": receipt.MessageUUID,
	})

	switch receipt.Type {
	case ReceiptDelivered:
		if err := wc.Stats.MarkDelivered(c.Context(), receipt.MessageUUID); err != nil {
			log.WithError(err).Error("failed to record delivery receipt")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record receipt",
			})
		}

	case ReceiptReplied:
		if err := wc.Stats.RecordReply(c.Context(), receipt.MessageUUID, at); err != nil {
			log.WithError(err).Error("failed to record reply receipt")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record receipt",
			})
		}

	case ReceiptOptOut:
		if err := wc.handleOptOut(c, &receipt, at); err != nil {
			log.WithError(err).Error("failed to record opt-out")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to record receipt",
			})
		}

	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unknown receipt type",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Receipt processed",
	})
}

// handleOptOut blacklists the contact for the owning user and counts the
// inbound message as a reply. Running campaigns pick the entry up on
// their next blacklist check, so no further sends reach this number.
func (wc *WebhookController) handleOptOut(c *fiber.Ctx, receipt *GatewayReceipt, at time.Time) error {
	var msg models.SentMessage
	if err := wc.DB.Where("message_uuid = ?", receipt.MessageUUID).First(&msg).Error; err != nil {
		return err
	}
	var campaign models.Campaign
	if err := wc.DB.First(&campaign, msg.CampaignID).Error; err != nil {
		return err
	}

	phone := receipt.PhoneNumber
	if phone == "" {
		var contact models.Contact
		if err := wc.DB.First(&contact, msg.ContactID).Error; err != nil {
			return err
		}
		phone = contact.PhoneNumber
	}

	if err := wc.Blacklist.Add(c.Context(), &models.BlacklistEntry{
		PhoneNumber: phone,
		UserID:      &campaign.UserID,
		Reason:      "recipient opted out",
		Source:      models.BlacklistSourceOptOut,
	}); err != nil {
		return err
	}

	// An opt-out is still an inbound reply for stats purposes.
	return wc.Stats.RecordReply(c.Context(), receipt.MessageUUID, at)
}
