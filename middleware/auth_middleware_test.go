package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anjiri1684/tutorhub/models"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func newApp() *fiber.App {
	app := fiber.New()
	app.Get("/me", Protected(secret), func(c *fiber.Ctx) error {
		a, _ := CurrentActor(c)
		return c.JSON(fiber.Map{"id": a.UserID, "role": a.Role})
	})
	app.Get("/admin", Protected(secret), AdminRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Get("/teaching", Protected(secret), TeacherOrAdminRequired(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	app.Post("/billing/run", BillingCronAuth("cron-secret"), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestProtected(t *testing.T) {
	app := newApp()
	id := uuid.New()
	valid := sign(t, secret, jwt.MapClaims{"user_id": id.String(), "role": models.RoleStudent, "exp": time.Now().Add(time.Hour).Unix()})

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "valid", path: "/me", header: "Bearer " + valid, want: fiber.StatusOK},
		{name: "missing", path: "/me", want: fiber.StatusBadRequest},
		{name: "wrong key", path: "/me", header: "Bearer " + sign(t, "other", jwt.MapClaims{"user_id": id.String(), "role": "student"}), want: fiber.StatusUnauthorized},
		{name: "expired", path: "/me", header: "Bearer " + sign(t, secret, jwt.MapClaims{"user_id": id.String(), "role": "student", "exp": time.Now().Add(-time.Hour).Unix()}), want: fiber.StatusUnauthorized},
		{name: "no user id", path: "/me", header: "Bearer " + sign(t, secret, jwt.MapClaims{"role": "student"}), want: fiber.StatusUnauthorized},
		{name: "student on admin route", path: "/admin", header: "Bearer " + valid, want: fiber.StatusForbidden},
		{name: "admin", path: "/admin", header: "Bearer " + sign(t, secret, jwt.MapClaims{"user_id": id.String(), "role": models.RoleAdmin}), want: fiber.StatusNoContent},
		{name: "teacher on teaching route", path: "/teaching", header: "Bearer " + sign(t, secret, jwt.MapClaims{"user_id": id.String(), "role": models.RoleTeacher}), want: fiber.StatusNoContent},
		{name: "admin on teaching route", path: "/teaching", header: "Bearer " + sign(t, secret, jwt.MapClaims{"user_id": id.String(), "role": models.RoleAdmin}), want: fiber.StatusNoContent},
		{name: "student on teaching route", path: "/teaching", header: "Bearer " + valid, want: fiber.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestBillingCronAuth(t *testing.T) {
	app := newApp()
	for header, want := range map[string]int{
		"Bearer cron-secret": fiber.StatusNoContent,
		"Bearer nope":        fiber.StatusUnauthorized,
		"cron-secret":        fiber.StatusUnauthorized,
		"":                   fiber.StatusUnauthorized,
	} {
		req := httptest.NewRequest(fiber.MethodPost, "/billing/run", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, header)
	}

	disabled := fiber.New()
	disabled.Post("/billing/run", BillingCronAuth(""), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	req := httptest.NewRequest(fiber.MethodPost, "/billing/run", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer ")
	resp, err := disabled.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
