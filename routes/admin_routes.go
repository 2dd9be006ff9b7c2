package routes

import (
	"github.com/anjiri1684/tutorhub/handlers"
	"github.com/anjiri1684/tutorhub/middleware"
	"github.com/gofiber/fiber/v2"
)

func AdminRoutes(api fiber.Router, d Deps) {
	admin := api.Group("/admin", middleware.Protected(d.JWTSecret), middleware.AdminRequired())

	admin.Get("/applications/pending", handlers.ListPendingApplications(d.Teachers))
	admin.Put("/applications/:teacherId", handlers.ManageApplication(d.Teachers))

	teachers := admin.Group("/teachers")
	teachers.Put("/:teacherId/availability", handlers.AdminReplaceAvailability(d.Availability))
	teachers.Put("/:teacherId/rank", handlers.SetTeacherRank(d.Settlement))

	reports := admin.Group("/reports")
	reports.Get("/payable-classes", handlers.GetPayableClassesReport(d.Settlement))

	subscriptions := admin.Group("/subscriptions")
	subscriptions.Get("/past-due", handlers.ListPastDueSubscriptions(d.Billing))
	subscriptions.Post("/:id/resume", handlers.ResumeSubscription(d.Billing))
}
