package routes

import (
	"github.com/anjiri1684/tutorhub/handlers"
	"github.com/gofiber/fiber/v2"
)

func AuthRoutes(api fiber.Router, d Deps) {
	auth := api.Group("/auth")
	auth.Post("/register", handlers.RegisterUser(d.DB, d.Notifier, d.Log))
	auth.Post("/login", handlers.LoginUser(d.DB, d.JWTSecret))
}
