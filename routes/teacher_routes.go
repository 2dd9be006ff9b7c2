package routes

import (
	"github.com/anjiri1684/tutorhub/handlers"
	"github.com/anjiri1684/tutorhub/middleware"
	"github.com/gofiber/fiber/v2"
)

func TeacherRoutes(api fiber.Router, d Deps) {
	teacher := api.Group("/teacher", middleware.Protected(d.JWTSecret))
	teacher.Post("/apply", handlers.ApplyToBeATeacher(d.Teachers))
	teacher.Get("/earnings", middleware.TeacherOrAdminRequired(), handlers.GetEarnings(d.Settlement))

	availability := teacher.Group("/availability", middleware.TeacherRequired())
	availability.Get("/slots", handlers.GetMyAvailableSlots(d.Availability))
	availability.Post("", handlers.CreateAvailabilityWindow(d.Availability))
	availability.Get("/me", handlers.GetMyAvailability(d.Availability))
	availability.Delete("/:windowId", handlers.DeleteAvailabilityWindow(d.Availability))

	bookings := teacher.Group("/bookings", middleware.TeacherOrAdminRequired())
	bookings.Get("", middleware.TeacherRequired(), handlers.GetMyTeacherBookings(d.Bookings))
	bookings.Post("/:bookingId/confirm", handlers.ConfirmBooking(d.Bookings))
	bookings.Post("/:bookingId/complete", handlers.CompleteBooking(d.Bookings))
}
