package controller

import (
	"github.com/gofiber/fiber/v2"

	"sendloop/models"
	"sendloop/utils"
)

type SenderBreakdown struct {
	SenderID        uint   `json:"sender_id"`
	Name            string `json:"name"`
	PhoneNumber     string `json:"phone_number"`
	MessagesSent    int    `json:"messages_sent"`
	RepliesReceived int    `json:"replies_received"`
}

type CampaignStatsResponse struct {
	CampaignID      uint              `json:"campaign_id"`
	Status          string            `json:"status"`
	TotalRecipients int               `json:"total_recipients"`
	TotalSent       int               `json:"total_sent"`
	TotalFailed     int               `json:"total_failed"`
	TotalReplies    int               `json:"total_replies"`
	Pending         int               `json:"pending"`
	Progress        float64           `json:"progress"`
	Dispatching     bool              `json:"dispatching"`
	LastError       string            `json:"last_error,omitempty"`
	Senders         []SenderBreakdown `json:"senders"`
}

// GetCampaignStats returns the live counters plus the per-sender
// breakdown.
func (cc *CampaignController) GetCampaignStats(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	var bindings []models.CampaignSender
	if err := cc.DB.Preload("Sender").
		Where("campaign_id = ?", campaign.ID).
		Order("id ASC").
		Find(&bindings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch sender breakdown",
		})
	}

	senders := make([]SenderBreakdown, 0, len(bindings))
	for _, b := range bindings {
		senders = append(senders, SenderBreakdown{
			SenderID:        b.SenderID,
			Name:            b.Sender.Name,
			PhoneNumber:     b.Sender.PhoneNumber,
			MessagesSent:    b.MessagesSent,
			RepliesReceived: b.RepliesReceived,
		})
	}

	handled := campaign.TotalSent + campaign.TotalFailed
	pending := campaign.TotalRecipients - handled
	if pending < 0 {
		pending = 0
	}
	progress := 0.0
	if campaign.TotalRecipients > 0 {
		progress = float64(handled) / float64(campaign.TotalRecipients)
		if progress > 1 {
			progress = 1
		}
	}

	return c.JSON(utils.SuccessResponse(CampaignStatsResponse{
		CampaignID:      campaign.ID,
		Status:          campaign.Status,
		TotalRecipients: campaign.TotalRecipients,
		TotalSent:       campaign.TotalSent,
		TotalFailed:     campaign.TotalFailed,
		TotalReplies:    campaign.TotalReplies,
		Pending:         pending,
		Progress:        progress,
		Dispatching:     cc.Engine.IsDispatching(campaign.ID),
		LastError:       campaign.LastError,
		Senders:         senders,
	}))
}

// ListCampaignMessages pages through the per-contact outcome rows.
func (cc *CampaignController) ListCampaignMessages(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
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

	query := cc.DB.Model(&models.SentMessage{}).Where("campaign_id = ?", campaign.ID)
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count messages",
		})
	}

	var messages []models.SentMessage
	if err := query.Order("id ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&messages).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch messages",
		})
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  messages,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}
