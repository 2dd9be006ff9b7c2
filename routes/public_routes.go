package routes

import (
	"github.com/anjiri1684/tutorhub/handlers"
	"github.com/gofiber/fiber/v2"
)

func PublicRoutes(api fiber.Router, d Deps) {
	api.Get("/availability", handlers.GetAvailability(d.Availability))
}
