package controller

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"sendloop/models"
	"sendloop/utils"
	"sendloop/worker"
)

type ScheduleCampaignRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// StartCampaign hands the campaign to the dispatch engine immediately.
func (cc *CampaignController) StartCampaign(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	if err := cc.Engine.Start(c.Context(), campaign.ID); err != nil {
		return cc.executionError(c, err, "Failed to start campaign")
	}

	return c.JSON(fiber.Map{
		"message": "Campaign started successfully",
	})
}

// PauseCampaign stops dispatch after the attempt in flight completes.
func (cc *CampaignController) PauseCampaign(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	if err := cc.Engine.Pause(c.Context(), campaign.ID); err != nil {
		return cc.executionError(c, err, "Failed to pause campaign")
	}

	return c.JSON(fiber.Map{
		"message": "Campaign pause requested",
	})
}

// ResumeCampaign continues a paused campaign from where it left off;
// contacts already handled are skipped, none are re-sent.
func (cc *CampaignController) ResumeCampaign(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	if campaign.Status != models.CampaignStatusPaused {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Only paused campaigns can be resumed",
		})
	}

	if err := cc.Engine.Resume(c.Context(), campaign.ID); err != nil {
		return cc.executionError(c, err, "Failed to resume campaign")
	}

	return c.JSON(fiber.Map{
		"message": "Campaign resumed successfully",
	})
}

// CancelCampaign terminally stops the campaign. Messages already sent
// stay sent.
func (cc *CampaignController) CancelCampaign(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	if err := cc.Engine.Cancel(c.Context(), campaign.ID); err != nil {
		return cc.executionError(c, err, "Failed to cancel campaign")
	}

	return c.JSON(fiber.Map{
		"message": "Campaign cancelled",
	})
}

// ScheduleCampaign queues a draft for the scheduler to launch at the
// given time.
func (cc *CampaignController) ScheduleCampaign(c *fiber.Ctx) error {
	campaign := cc.ownedCampaign(c)
	if campaign == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Campaign not found",
		})
	}

	var req ScheduleCampaignRequest
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
	if req.ScheduledAt.Before(time.Now()) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "scheduled_at must be in the future",
		})
	}

	switch campaign.Status {
	case models.CampaignStatusDraft, models.CampaignStatusScheduled:
	default:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Only draft campaigns can be scheduled",
		})
	}

	if err := cc.DB.Model(campaign).Updates(map[string]interface{}{
		"status":       models.CampaignStatusScheduled,
		"scheduled_at": req.ScheduledAt,
	}).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to schedule campaign",
		})
	}

	return c.JSON(fiber.Map{
		"message":      "Campaign scheduled",
		"scheduled_at": req.ScheduledAt,
	})
}

// ownedCampaign loads the campaign from the path parameter, scoped to
// the authenticated user. Returns nil when it does not exist.
func (cc *CampaignController) ownedCampaign(c *fiber.Ctx) *models.Campaign {
	user := c.Locals("user").(*models.User)

	var campaign models.Campaign
	if err := cc.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
		First(&campaign).Error; err != nil {
		return nil
	}
	return &campaign
}

// executionError maps engine errors onto HTTP statuses.
func (cc *CampaignController) executionError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, worker.ErrCampaignFinished):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Campaign already finished",
		})
	case errors.Is(err, worker.ErrNoMessageVariants):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Campaign has no message variants",
		})
	case errors.Is(err, worker.ErrNoSendersAvailable):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "No connected sender accounts available",
		})
	case errors.Is(err, worker.ErrNotRunning):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Campaign is not running",
		})
	}
	cc.Logger.WithError(err).Error(fallback)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fallback,
	})
}
