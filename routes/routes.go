package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "sendloop/controllers"
	"sendloop/middleware"
	"sendloop/models"
	"sendloop/repository"
	"sendloop/worker"
)

// Deps bundles everything the route handlers need.
type Deps struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Engine    *worker.Registry
	Conn      worker.SenderConnection
	Hub       *controller.ProgressHub
	Blacklist repository.BlacklistRepository
}

func SetupRoutes(app *fiber.App, deps Deps) {
	campaignController := controller.NewCampaignController(deps.DB, deps.Logger, deps.Engine)
	senderController := controller.NewSenderController(deps.DB, deps.Logger, deps.Conn)
	contactController := controller.NewContactController(deps.DB, deps.Logger, deps.Blacklist)
	webhookController := controller.NewWebhookController(deps.DB, deps.Logger, deps.Engine.Stats(), deps.Blacklist)

	// Public auth endpoints (no authentication required)
	auth := app.Group("/auth", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	auth.Post("/register", controller.Register)
	auth.Post("/login", controller.Login)
	auth.Post("/refresh", controller.RefreshToken)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected())
	protectedAuth.Post("/change-password", controller.ChangePassword)
	protectedAuth.Get("/me", controller.Me)

	// Gateway receipts authenticate with the shared gateway key, not JWT.
	app.Post("/webhooks/gateway", webhookController.HandleGatewayReceipt)

	// API group with versioning and protection
	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Sender routes
	sender := api.Group("/senders")
	sender.Post("/", senderController.CreateSender)
	sender.Get("/", senderController.ListSenders)
	sender.Get("/:id", senderController.GetSender)
	sender.Put("/:id", senderController.UpdateSender)
	sender.Delete("/:id", senderController.DeleteSender)
	sender.Post("/:id/test", middleware.SenderRateLimiter(), senderController.TestSender)

	// Contact list routes
	lists := api.Group("/contact-lists")
	lists.Post("/", contactController.CreateContactList)
	lists.Get("/", contactController.ListContactLists)
	lists.Get("/:id/contacts", contactController.ListContacts)
	lists.Post("/:id/contacts", contactController.ImportContacts)
	lists.Delete("/:id", contactController.DeleteContactList)

	// Blacklist routes
	blacklist := api.Group("/blacklist")
	blacklist.Post("/", contactController.AddToBlacklist)
	blacklist.Get("/", contactController.ListBlacklist)
	blacklist.Delete("/:id", contactController.RemoveFromBlacklist)

	// Campaign routes
	campaign := api.Group("/campaigns")
	campaign.Post("/", campaignController.CreateCampaign)
	campaign.Get("/", campaignController.ListCampaigns)
	campaign.Get("/:id", campaignController.GetCampaign)
	campaign.Put("/:id", campaignController.UpdateCampaign)
	campaign.Delete("/:id", campaignController.DeleteCampaign)

	// Execution control
	campaign.Post("/:id/start", campaignController.StartCampaign)
	campaign.Post("/:id/pause", campaignController.PauseCampaign)
	campaign.Post("/:id/resume", campaignController.ResumeCampaign)
	campaign.Post("/:id/cancel", campaignController.CancelCampaign)
	campaign.Post("/:id/schedule", campaignController.ScheduleCampaign)

	// Stats
	campaign.Get("/:id/stats", campaignController.GetCampaignStats)
	campaign.Get("/:id/messages", campaignController.ListCampaignMessages)

	// Live progress over websocket. Ownership is checked before the
	// upgrade; the hub only sees campaign ids that passed it.
	ws := app.Group("/ws", middleware.Protected())
	ws.Use("/campaigns/:id/progress", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		user := c.Locals("user").(*models.User)
		var campaign models.Campaign
		if err := deps.DB.Where("id = ? AND user_id = ?", c.Params("id"), user.ID).
			First(&campaign).Error; err != nil {
			return fiber.ErrNotFound
		}
		c.Locals("campaignID", campaign.ID)
		return c.Next()
	})
	ws.Get("/campaigns/:id/progress", websocket.New(deps.Hub.HandleCampaignProgressWS))

	deps.Logger.Info("routes initialized")
}
