package handlers

import (
	"context"
	"time"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/anjiri1684/tutorhub/notifications"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var validate = validator.New()

type RegisterRequest struct {
	FullName string  `json:"full_name" validate:"required,min=3"`
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=6"`
	TimeZone *string `json:"time_zone,omitempty"`
}

type UserResponse struct {
	ID        string    `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	TimeZone  *string   `json:"time_zone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterUser creates a student account and sends the welcome email.
func RegisterUser(db *gorm.DB, notifier notifications.Notifier, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if req.TimeZone != nil {
			if _, err := time.LoadLocation(*req.TimeZone); err != nil {
				return badRequest(c, "Invalid time_zone")
			}
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to hash password"})
		}

		newUser := models.User{
			FullName: req.FullName,
			Email:    req.Email,
			Password: string(hashedPassword),
			Role:     models.RoleStudent,
			TimeZone: req.TimeZone,
			IsActive: true,
		}
		if err := db.WithContext(c.UserContext()).Create(&newUser).Error; err != nil {
			var exists int64
			db.Model(&models.User{}).Where("email = ?", req.Email).Count(&exists)
			if errors.Is(err, gorm.ErrDuplicatedKey) || exists > 0 {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already exists"})
			}
			log.Error("failed to create user", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create user"})
		}

		go func(u models.User) {
			msg := notifications.Message{
				ToName:  u.FullName,
				ToEmail: u.Email,
				Subject: "Welcome!",
				HTML:    "<h1>Welcome!</h1><p>Thank you for registering.</p>",
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := notifier.Send(ctx, msg); err != nil {
				log.Warn("failed to send welcome email", zap.Error(err), zap.String("email", u.Email))
			}
		}(newUser)

		return c.Status(fiber.StatusCreated).JSON(UserResponse{
			ID:        newUser.ID.String(),
			FullName:  newUser.FullName,
			Email:     newUser.Email,
			Role:      newUser.Role,
			TimeZone:  newUser.TimeZone,
			CreatedAt: newUser.CreatedAt,
		})
	}
}

func LoginUser(db *gorm.DB, secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
		}
		if err := validate.Struct(req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}

		var user models.User
		if err := db.WithContext(c.UserContext()).Where("email = ?", req.Email).First(&user).Error; err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid email or password"})
		}
		if !user.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Account is deactivated"})
		}

		claims := jwt.MapClaims{
			"user_id": user.ID.String(),
			"role":    user.Role,
			"exp":     time.Now().Add(time.Hour * 72).Unix(),
		}
		t, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create token"})
		}
		return c.JSON(fiber.Map{"token": t})
	}
}
