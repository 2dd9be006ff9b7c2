package routes

import (
	"github.com/anjiri1684/tutorhub/handlers"
	"github.com/anjiri1684/tutorhub/middleware"
	"github.com/gofiber/fiber/v2"
)

func BookingRoutes(api fiber.Router, d Deps) {
	booking := api.Group("/bookings", middleware.Protected(d.JWTSecret))
	booking.Get("/me", handlers.GetMyBookings(d.Bookings))
	booking.Post("", middleware.StudentRequired(), handlers.CreateBooking(d.Bookings))
	booking.Get("/:bookingId", handlers.GetBooking(d.Bookings))
	booking.Post("/:bookingId/cancel", handlers.CancelBooking(d.Bookings))
	booking.Post("/:bookingId/attendance", handlers.MarkAttendance(d.Bookings))
	booking.Get("/:bookingId/payable", handlers.GetPayable(d.Bookings))
}
