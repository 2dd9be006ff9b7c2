package handlers

import (
	"github.com/anjiri1684/tutorhub/middleware"
	"github.com/anjiri1684/tutorhub/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// respondError turns a service error into the HTTP response. Unknown
// failures are logged and hidden behind a generic message.
func respondError(c *fiber.Ctx, log *zap.Logger, err error) error {
	switch services.KindOf(err) {
	case services.KindValidation:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case services.KindNotFound:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case services.KindConflict:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case services.KindOutOfWindow:
		return c.JSON(fiber.Map{"success": false, "outside_schedule": true, "message": err.Error()})
	}
	log.Error("request failed", zap.Error(err), zap.String("path", c.Path()), zap.String("method", c.Method()))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func actorOf(c *fiber.Ctx) (services.Actor, bool) {
	a, ok := middleware.CurrentActor(c)
	if !ok {
		return services.Actor{}, false
	}
	return services.Actor{UserID: a.UserID, Role: a.Role}, true
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	return id, err == nil
}
