package routes

import (
	"github.com/anjiri1684/tutorhub/handlers"
	"github.com/anjiri1684/tutorhub/notifications"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps is everything the HTTP layer needs, built once in main.
type Deps struct {
	DB                *gorm.DB
	Notifier          notifications.Notifier
	Log               *zap.Logger
	JWTSecret         string
	BillingCronSecret string

	Availability handlers.AvailabilityDeps
	Bookings     handlers.BookingDeps
	Settlement   handlers.SettlementDeps
	Billing      handlers.BillingDeps
	Teachers     handlers.TeacherDeps
}

// Register mounts every API group under /api/v1.
func Register(app *fiber.App, d Deps) {
	api := app.Group("/api/v1")

	AuthRoutes(api, d)
	PublicRoutes(api, d)
	TeacherRoutes(api, d)
	BookingRoutes(api, d)
	BillingRoutes(api, d)
	AdminRoutes(api, d)
}
