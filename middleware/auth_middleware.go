package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/gofiber/fiber/v2"
	jwtware "github.com/gofiber/jwt/v3"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const actorKey = "actor"

// Actor is the caller identity taken from a verified JWT.
type Actor struct {
	UserID uuid.UUID
	Role   string
}

func Protected(secret string) fiber.Handler {
	return jwtware.New(jwtware.Config{
		SigningKey:     []byte(secret),
		ErrorHandler:   jwtError,
		SuccessHandler: storeActor,
	})
}

func jwtError(c *fiber.Ctx, err error) error {
	if err.Error() == "Missing or malformed JWT" {
		return c.Status(fiber.StatusBadRequest).
			JSON(fiber.Map{"status": "error", "message": "Missing or malformed JWT", "data": nil})
	}
	return c.Status(fiber.StatusUnauthorized).
		JSON(fiber.Map{"status": "error", "message": "Invalid or expired JWT", "data": nil})
}

func storeActor(c *fiber.Ctx) error {
	token, ok := c.Locals("user").(*jwt.Token)
	if !ok {
		return jwtError(c, fiber.ErrUnauthorized)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return jwtError(c, fiber.ErrUnauthorized)
	}
	rawID, _ := claims["user_id"].(string)
	role, _ := claims["role"].(string)
	id, err := uuid.Parse(rawID)
	if err != nil || role == "" {
		return jwtError(c, fiber.ErrUnauthorized)
	}
	c.Locals(actorKey, Actor{UserID: id, Role: role})
	return c.Next()
}

// CurrentActor returns the caller stored by Protected.
func CurrentActor(c *fiber.Ctx) (Actor, bool) {
	a, ok := c.Locals(actorKey).(Actor)
	return a, ok
}

func requireRole(message string, roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, ok := CurrentActor(c)
		if ok {
			for _, role := range roles {
				if a.Role == role {
					return c.Next()
				}
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": message,
		})
	}
}

func AdminRequired() fiber.Handler {
	return requireRole("Forbidden: Admin access required", models.RoleAdmin)
}

func TeacherRequired() fiber.Handler {
	return requireRole("Forbidden: Teacher access required", models.RoleTeacher)
}

func StudentRequired() fiber.Handler {
	return requireRole("Forbidden: Student access required", models.RoleStudent)
}

// TeacherOrAdminRequired lets admins act on a teacher's behalf.
func TeacherOrAdminRequired() fiber.Handler {
	return requireRole("Forbidden: Teacher access required", models.RoleTeacher, models.RoleAdmin)
}

// BillingCronAuth guards the billing trigger with a shared bearer secret.
// An empty secret disables the endpoint.
func BillingCronAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		given := strings.TrimPrefix(header, "Bearer ")
		if secret == "" || given == header ||
			subtle.ConstantTimeCompare([]byte(given), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"status": "error", "message": "Unauthorized", "data": nil,
			})
		}
		return c.Next()
	}
}
