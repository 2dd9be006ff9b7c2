package routes

import (
	"github.com/anjiri1684/tutorhub/handlers"
	"github.com/anjiri1684/tutorhub/middleware"
	"github.com/gofiber/fiber/v2"
)

// BillingRoutes exposes the batch trigger to the external scheduler.
func BillingRoutes(api fiber.Router, d Deps) {
	api.Post("/billing/run", middleware.BillingCronAuth(d.BillingCronSecret), handlers.RunBilling(d.Billing))
}
