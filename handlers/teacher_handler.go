package handlers

import (
	"context"
	"time"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/notifications"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type TeacherDeps struct {
	DB       *gorm.DB
	Notifier notifications.Notifier
	Log      *zap.Logger
}

type TeacherApplicationRequest struct {
	Headline string `json:"headline" validate:"required"`
	Bio      string `json:"bio" validate:"required"`
}

type ManageApplicationRequest struct {
	Status string `json:"status" validate:"required,oneof=active rejected"`
}

func ApplyToBeATeacher(d TeacherDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		var req TeacherApplicationRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		db := d.DB.WithContext(c.UserContext())
		var existing models.Teacher
		err := db.Where("user_id = ?", actor.UserID).First(&existing).Error
		if err == nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "You have already submitted an application."})
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Database error"})
		}

		application := models.Teacher{
			UserID:   actor.UserID,
			Headline: &req.Headline,
			Bio:      &req.Bio,
			Status:   models.TeacherStatusPending,
		}
		if err := db.Create(&application).Error; err != nil {
			d.Log.Error("failed to create teacher application", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create application"})
		}
		return c.Status(fiber.StatusCreated).JSON(application)
	}
}

func ListPendingApplications(d TeacherDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var pending []models.Teacher
		if err := d.DB.WithContext(c.UserContext()).Preload("User").
			Where("status = ?", models.TeacherStatusPending).Find(&pending).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Database error"})
		}
		return c.JSON(pending)
	}
}

// ManageApplication approves or rejects a teacher. Approval also promotes
// the user's role so the teacher routes open up on their next login.
func ManageApplication(d TeacherDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		teacherID, ok := paramUUID(c, "teacherId")
		if !ok {
			return badRequest(c, "Invalid teacher ID")
		}
		var req ManageApplicationRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		var user models.User
		err := d.DB.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Teacher{}).Where("user_id = ?", teacherID).Update("status", req.Status)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
			if err := tx.First(&user, "id = ?", teacherID).Error; err != nil {
				return err
			}
			if req.Status == models.TeacherStatusActive && user.Role != models.RoleAdmin {
				return tx.Model(&user).Update("role", models.RoleTeacher).Error
			}
			return nil
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Application not found"})
		}
		if err != nil {
			d.Log.Error("failed to update teacher application", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update application status"})
		}

		msg := notifications.Message{ToName: user.FullName, ToEmail: user.Email}
		switch req.Status {
		case models.TeacherStatusActive:
			msg.Subject = "Your Teacher Application has been Approved!"
			msg.HTML = "<h1>Congratulations!</h1><p>Your application to become a teacher has been approved. You can now set your availability and start teaching.</p>"
		case models.TeacherStatusRejected:
			msg.Subject = "Update on Your Teacher Application"
			msg.HTML = "<h1>Application Update</h1><p>We regret to inform you that after careful review, your teacher application was not approved at this time.</p>"
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := d.Notifier.Send(ctx, msg); err != nil {
				d.Log.Warn("failed to send application email", zap.Error(err), zap.String("email", msg.ToEmail))
			}
		}()

		return c.JSON(fiber.Map{"message": "Application status updated successfully"})
	}
}
