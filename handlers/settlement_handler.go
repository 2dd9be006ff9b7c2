package handlers

import (
	"time"

	"github.com/anjiri1684/tutorhub/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SettlementDeps struct {
	Service *services.SettlementService
	Log     *zap.Logger
}

type RankRequest struct {
	RateMultiplier *float64 `json:"rate_multiplier" validate:"required,gte=0"`
}

// settlementQuery reads from/to (RFC 3339 or YYYY-MM-DD) or period.
func settlementQuery(c *fiber.Ctx) (services.SettlementQuery, string) {
	q := services.SettlementQuery{Period: c.Query("period")}
	var ok bool
	if q.From, ok = parseBound(c.Query("from")); !ok {
		return q, "from must be RFC 3339 or YYYY-MM-DD"
	}
	if q.To, ok = parseBound(c.Query("to")); !ok {
		return q, "to must be RFC 3339 or YYYY-MM-DD"
	}
	if raw := c.Query("teacher_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return q, "Invalid teacher_id"
		}
		q.TeacherID = &id
	}
	return q, ""
}

func parseBound(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	t, err := time.Parse("2006-01-02", raw)
	return t, err == nil
}

// GetEarnings reports a teacher's own earnings. Admins pass teacher_id.
func GetEarnings(d SettlementDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := actorOf(c)
		if !ok {
			return unauthorized(c)
		}
		q, msg := settlementQuery(c)
		if msg != "" {
			return badRequest(c, msg)
		}
		if !actor.IsAdmin() {
			q.TeacherID = &actor.UserID
		} else if q.TeacherID == nil {
			return badRequest(c, "teacher_id is required")
		}

		report, err := d.Service.Earnings(c.UserContext(), q)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(report)
	}
}

func GetPayableClassesReport(d SettlementDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q, msg := settlementQuery(c)
		if msg != "" {
			return badRequest(c, msg)
		}
		report, err := d.Service.PayableClassesReport(c.UserContext(), q)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(report)
	}
}

func SetTeacherRank(d SettlementDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		teacherID, ok := paramUUID(c, "teacherId")
		if !ok {
			return badRequest(c, "Invalid teacher ID")
		}
		var req RankRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		rank, err := d.Service.SetRank(c.UserContext(), teacherID, *req.RateMultiplier)
		if err != nil {
			return respondError(c, d.Log, err)
		}
		return c.JSON(rank)
	}
}
