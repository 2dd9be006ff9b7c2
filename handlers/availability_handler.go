package handlers

import (
	"strings"
	"time"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/services"
	"github.com/anjiri1684/tutorhub/timeconv"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AvailabilityDeps are the collaborators of the availability endpoints.
type AvailabilityDeps struct {
	Service  *services.AvailabilityService
	DB       *gorm.DB
	Clock    services.Clock
	Location *time.Location
	Log      *zap.Logger
}

type WindowRequest struct {
	services.WindowInput
	TimeZone string `json:"timezone"`
}

type ReplaceWindowsRequest struct {
	TimeZone string                 `json:"timezone"`
	Windows  []services.WindowInput `json:"windows" validate:"dive"`
}

// GetAvailability is the student-facing slot search.
func GetAvailability(d AvailabilityDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, err := d.baseQuery(c, c.Query("timezone"))
		if err != nil {
			return badRequest(c, err.Error())
		}
		if raw := c.Query("course_id"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				return badRequest(c, "Invalid course_id")
			}
			q.CourseID = &id
		} else {
			for _, part := range strings.Split(c.Query("teacher_ids"), ",") {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				id, err := uuid.Parse(part)
				if err != nil {
					return badRequest(c, "Invalid teacher_ids")
				}
				q.TeacherIDs = append(q.TeacherIDs, id)
			}
			if len(q.TeacherIDs) == 0 {
				return badRequest(c, "teacher_ids or course_id is required")
			}
		}
		if raw := c.Query("duration"); raw != "" {
			minutes := c.QueryInt("duration", -1)
			if minutes <= 0 {
				return badRequest(c, "duration must be a number of minutes")
			}
			q.Duration = time.Duration(minutes) * time.Minute
		}
		q.IncludeBooked = c.QueryBool("include_booked", false)

		slots, err := d.Service.Resolve(c.UserContext(), q)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(slots)
	}
}

// GetMyAvailableSlots shows a teacher their own hour-aligned open slots.
func GetMyAvailableSlots(d AvailabilityDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		tz := c.Query("timezone")
		if tz == "" {
			tz = d.userTimeZone(c, actor.UserID)
		}
		q, err := d.baseQuery(c, tz)
		if err != nil {
			return badRequest(c, err.Error())
		}
		q.TeacherIDs = []uuid.UUID{actor.UserID}
		q.Alignment = services.AlignTeacher
		q.Duration = services.TeacherSlotDuration
		q.IncludeBooked = true

		slots, err := d.Service.Resolve(c.UserContext(), q)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(slots)
	}
}

func CreateAvailabilityWindow(d AvailabilityDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		var req WindowRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
		if err := validate.Struct(req.WindowInput); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		tz := req.TimeZone
		if tz == "" {
			tz = d.userTimeZone(c, actor.UserID)
		}
		loc, err := timeconv.LoadLocation(tz, d.Location)
		if err != nil {
			return badRequest(c, "Invalid timezone")
		}

		rows, err := d.Service.CreateWindow(c.UserContext(), actor.UserID, req.WindowInput, loc)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.Status(fiber.StatusCreated).JSON(rows)
	}
}

// GetMyAvailability lists the teacher's windows in their own zone, or in the
// zone given by ?timezone.
func GetMyAvailability(d AvailabilityDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		tz := c.Query("timezone")
		if tz == "" {
			tz = d.userTimeZone(c, actor.UserID)
		}
		loc, err := timeconv.LoadLocation(tz, d.Location)
		if err != nil {
			return badRequest(c, "Invalid timezone")
		}
		windows, err := d.Service.ListLocalWindows(c.UserContext(), actor.UserID, loc)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(windows)
	}
}

func DeleteAvailabilityWindow(d AvailabilityDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		windowID, ok := paramUUID(c, "windowId")
		if !ok {
			return badRequest(c, "Invalid window ID")
		}
		if err := d.Service.DeleteWindow(c.UserContext(), actor.UserID, windowID); err != nil {
			return respondError(c, d.Log, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// AdminReplaceAvailability overwrites every window of one teacher.
func AdminReplaceAvailability(d AvailabilityDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		teacherID, ok := paramUUID(c, "teacherId")
		if !ok {
			return badRequest(c, "Invalid teacher ID")
		}
		var req ReplaceWindowsRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		tz := req.TimeZone
		if tz == "" {
			tz = d.userTimeZone(c, teacherID)
		}
		loc, err := timeconv.LoadLocation(tz, d.Location)
		if err != nil {
			return badRequest(c, "Invalid timezone")
		}

		rows, err := d.Service.ReplaceWindows(c.UserContext(), teacherID, req.Windows, loc)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(rows)
	}
}

type queryError string

func (e queryError) Error() string { return string(e) }

// baseQuery reads timezone, from and days. from defaults to today in the
// viewer's zone and days to 7.
func (d AvailabilityDeps) baseQuery(c *fiber.Ctx, tz string) (services.AvailabilityQuery, error) {
	loc, err := timeconv.LoadLocation(tz, d.Location)
	if err != nil {
		return services.AvailabilityQuery{}, queryError("Invalid timezone")
	}
	q := services.AvailabilityQuery{Location: loc, Days: c.QueryInt("days", 7)}
	if raw := c.Query("from"); raw != "" {
		from, err := timeconv.ParseDate(raw)
		if err != nil {
			return services.AvailabilityQuery{}, queryError("from must be YYYY-MM-DD")
		}
		q.From = from
	} else {
		now := d.Clock.Now(c.UserContext()).In(loc)
		q.From = timeconv.MustDate(now.Format("2006-01-02"))
	}
	return q, nil
}

func (d AvailabilityDeps) userTimeZone(c *fiber.Ctx, userID uuid.UUID) string {
	var u models.User
	if err := d.DB.WithContext(c.UserContext()).Select("time_zone").First(&u, "id = ?", userID).Error; err != nil || u.TimeZone == nil {
		return ""
	}
	return *u.TimeZone
}
