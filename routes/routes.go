package routes

import (
	controller "reachly/controllers"
	"reachly/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Controllers bundles every handler group the router mounts.
type Controllers struct {
	Campaigns     *controller.CampaignController
	Contacts      *controller.ContactController
	Accounts      *controller.AccountController
	Enrichment    *controller.EnrichmentController
	Usage         *controller.UsageController
	Billing       *controller.BillingController
	Tracking      *controller.TrackingController
	Notifications *controller.NotificationController
	Cron          *controller.CronController
}

func SetupRoutes(app *fiber.App, c Controllers) {
	app.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"status": "ok"})
	})

	// Public tracking endpoints hit from recipients' mail clients
	app.Get("/track/open/:trackingId/:pixelId", c.Tracking.TrackOpen)
	app.Get("/track/click/:trackingId", c.Tracking.TrackClick)

	// Stripe calls this directly; signature verification is the auth
	app.Post("/api/billing/webhook", c.Billing.HandleStripeWebhook)

	api := app.Group("/api")

	// Cron endpoints for external schedulers
	cron := api.Group("/cron", middleware.CronProtected())
	cron.Post("/process-campaigns", c.Cron.ProcessCampaigns)
	cron.Post("/redrive-enrichment", c.Cron.RedriveEnrichmentJobs)

	// Enrichment continuation is invoked service-to-service
	api.Post("/contacts/bulk-enrich/process", middleware.CronProtected(), c.Enrichment.ProcessBulkEnrichment)

	// Everything below requires an authenticated user
	auth := api.Group("", middleware.Protected())

	campaigns := auth.Group("/campaigns")
	campaigns.Post("/", c.Campaigns.CreateCampaign)
	campaigns.Get("/", c.Campaigns.GetCampaigns)
	campaigns.Get("/:id", c.Campaigns.GetCampaign)
	campaigns.Put("/:id", c.Campaigns.UpdateCampaign)
	campaigns.Delete("/:id", c.Campaigns.DeleteCampaign)
	campaigns.Post("/:id/start", c.Campaigns.StartCampaign)
	campaigns.Post("/:id/pause", c.Campaigns.PauseCampaign)
	campaigns.Get("/:id/stats", c.Campaigns.GetCampaignStats)

	contacts := auth.Group("/contacts")
	contacts.Post("/bulk-enrich", c.Enrichment.CreateBulkEnrichment)
	contacts.Get("/bulk-enrich/jobs", c.Enrichment.GetJobs)
	contacts.Get("/bulk-enrich/jobs/:id", c.Enrichment.GetJobStatus)
	contacts.Post("/bulk-enrich/jobs/:id/cancel", c.Enrichment.CancelJob)
	contacts.Post("/", c.Contacts.CreateContact)
	contacts.Get("/", c.Contacts.GetContacts)
	contacts.Get("/:id", c.Contacts.GetContact)
	contacts.Put("/:id", c.Contacts.UpdateContact)
	contacts.Delete("/:id", c.Contacts.DeleteContact)
	contacts.Post("/:id/unsubscribe", c.Contacts.UnsubscribeContact)

	lists := auth.Group("/lists")
	lists.Post("/", c.Contacts.CreateList)
	lists.Get("/", c.Contacts.GetLists)
	lists.Delete("/:id", c.Contacts.DeleteList)
	lists.Post("/:id/contacts", c.Contacts.AddContactsToList)
	lists.Delete("/:id/contacts/:contactId", c.Contacts.RemoveContactFromList)

	accounts := auth.Group("/email-accounts")
	accounts.Post("/", c.Accounts.CreateAccount)
	accounts.Get("/", c.Accounts.GetAccounts)
	accounts.Put("/:id", c.Accounts.UpdateAccount)
	accounts.Delete("/:id", c.Accounts.DeleteAccount)
	accounts.Post("/:id/test", c.Accounts.TestAccount)

	usage := auth.Group("/usage")
	usage.Get("/", c.Usage.GetUsage)
	usage.Get("/limits", c.Usage.CheckLimits)
	usage.Get("/check", c.Usage.CheckAction)
	usage.Get("/alerts", c.Usage.GetAlerts)

	billing := auth.Group("/billing")
	billing.Get("/plans", c.Billing.GetPlans)
	billing.Get("/subscription", c.Billing.GetSubscription)
	billing.Post("/checkout", c.Billing.CreateCheckoutSession)

	notifications := auth.Group("/notifications")
	notifications.Get("/", c.Notifications.GetNotifications)
	notifications.Post("/:id/read", c.Notifications.MarkRead)

	// Websocket upgrade must be gated before the handler runs
	auth.Use("/ws", func(ctx *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(ctx) {
			return ctx.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	auth.Get("/ws/notifications", c.Notifications.StreamNotifications())
}
