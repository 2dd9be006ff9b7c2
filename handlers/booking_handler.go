package handlers

import (
	"time"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/services"
	"github.com/anjiri1684/tutorhub/timeconv"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type BookingDeps struct {
	Bookings   *services.BookingService
	Attendance *services.AttendanceService
	Clock      services.Clock
	Location   *time.Location
	Log        *zap.Logger
}

type CreateBookingRequest struct {
	TeacherID    uuid.UUID  `json:"teacher_id" validate:"required"`
	Day          string     `json:"day" validate:"required"`
	StartTime    string     `json:"start_time" validate:"required"`
	EndTime      string     `json:"end_time" validate:"required"`
	TimeZone     string     `json:"timezone"`
	EnrollmentID *uuid.UUID `json:"enrollment_id,omitempty"`
	CourseID     *uuid.UUID `json:"course_id,omitempty"`
}

type CompleteBookingRequest struct {
	MeasuredDurationMinutes *int `json:"measured_duration_minutes,omitempty" validate:"omitempty,min=1"`
}

type AttendanceRequest struct {
	// Party is only honoured for admins; participants always mark themselves.
	Party string `json:"party,omitempty" validate:"omitempty,oneof=TEACHER STUDENT"`
}

func CreateBooking(d BookingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		var req CreateBookingRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		loc, err := timeconv.LoadLocation(req.TimeZone, d.Location)
		if err != nil {
			return badRequest(c, "Invalid timezone")
		}

		booking, err := d.Bookings.Create(c.UserContext(), services.CreateBookingInput{
			StudentID:    actor.UserID,
			TeacherID:    req.TeacherID,
			Day:          req.Day,
			StartTime:    req.StartTime,
			EndTime:      req.EndTime,
			Location:     loc,
			EnrollmentID: req.EnrollmentID,
			CourseID:     req.CourseID,
		})
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"booking_id": booking.ID,
			"status":     booking.Status,
			"starts_at":  booking.StartsAt,
			"ends_at":    booking.EndsAt,
		})
	}
}

func GetBooking(d BookingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		id, ok := paramUUID(c, "bookingId")
		if !ok {
			return badRequest(c, "Invalid booking ID")
		}
		b, err := d.Bookings.Get(c.UserContext(), id, actor)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(b)
	}
}

func GetMyBookings(d BookingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		bookings, err := d.Bookings.ListForStudent(c.UserContext(), actor.UserID)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(bookings)
	}
}

func GetMyTeacherBookings(d BookingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		bookings, err := d.Bookings.ListForTeacher(c.UserContext(), actor.UserID)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(bookings)
	}
}

func CancelBooking(d BookingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		id, ok := paramUUID(c, "bookingId")
		if !ok {
			return badRequest(c, "Invalid booking ID")
		}
		b, err := d.Bookings.Cancel(c.UserContext(), id, actor)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(b)
	}
}

func ConfirmBooking(d BookingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		id, ok := paramUUID(c, "bookingId")
		if !ok {
			return badRequest(c, "Invalid booking ID")
		}
		b, err := d.Bookings.Confirm(c.UserContext(), id, actor)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(b)
	}
}

// MarkAttendance records the caller's own attendance. Marks outside the
// class window still answer 200 with outside_schedule set.
func MarkAttendance(d BookingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		id, ok := paramUUID(c, "bookingId")
		if !ok {
			return badRequest(c, "Invalid booking ID")
		}
		var req AttendanceRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
			}
			if err := validate.Struct(req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			}
		}

		b, err := d.Bookings.Get(c.UserContext(), id, actor)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		party := partyOf(actor, b.TeacherID, req.Party)
		if party == "" {
			return badRequest(c, "party is required")
		}

		res, err := d.Attendance.MarkAttendance(c.UserContext(), id, party, d.Clock.Now(c.UserContext()))
		if err != nil {
			return respondError(c, d.Log, err)
		}
		out := fiber.Map{"success": !res.OutsideSchedule}
		if res.OutsideSchedule {
			out["outside_schedule"] = true
			out["message"] = res.Message
		} else {
			out["marked_as_payable"] = res.MarkedAsPayable
			out["already_marked"] = res.AlreadyMarked
		}
		return c.JSON(out)
	}
}

func partyOf(actor services.Actor, teacherID uuid.UUID, requested string) string {
	switch {
	case actor.IsAdmin():
		return requested
	case actor.UserID == teacherID:
		return models.PartyTeacher
	}
	return models.PartyStudent
}

func GetPayable(d BookingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		id, ok := paramUUID(c, "bookingId")
		if !ok {
			return badRequest(c, "Invalid booking ID")
		}
		if _, err := d.Bookings.Get(c.UserContext(), id, actor); err != nil {
			return respondError(c, d.Log, err)
		}
		payable, err := d.Attendance.ComputePayable(c.UserContext(), id)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(fiber.Map{"booking_id": id, "payable": payable})
	}
}

// CompleteBooking closes a session for its teacher or an admin.
func CompleteBooking(d BookingDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		id, ok := paramUUID(c, "bookingId")
		if !ok {
			return badRequest(c, "Invalid booking ID")
		}
		var req CompleteBookingRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
			}
			if err := validate.Struct(req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
			}
		}

		b, err := d.Bookings.Get(c.UserContext(), id, actor)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		if !actor.IsAdmin() && b.TeacherID != actor.UserID {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "booking not found"})
		}

		done, err := d.Attendance.CompleteSession(c.UserContext(), id, req.MeasuredDurationMinutes)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(done)
	}
}
